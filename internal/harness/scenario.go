package harness

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/planmirror/internal/connector"
	"github.com/roach88/planmirror/internal/ir"
)

// Scenario defines one replayable sync scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	Config ConfigSpec `yaml:"config,omitempty"`

	// Items seed the connector before the first step.
	Items []ItemSpec `yaml:"items"`

	// Failures script connector errors.
	Failures []FailureSpec `yaml:"failures,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions check the mirror after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ConfigSpec tunes the coordinator. Zero fields take the engine defaults,
// except page_size which defaults to 100.
type ConfigSpec struct {
	BatchSize   int `yaml:"batch_size,omitempty"`
	Workers     int `yaml:"workers,omitempty"`
	MaxAttempts int `yaml:"max_attempts,omitempty"`
	PageSize    int `yaml:"page_size,omitempty"`
}

// ItemSpec declares one connector document, or Count generated ones with
// ids Prefix000, Prefix001 and so on.
type ItemSpec struct {
	Source string         `yaml:"source"`
	Type   string         `yaml:"type"`
	ID     string         `yaml:"id,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Prefix string         `yaml:"prefix,omitempty"`
	Doc    map[string]any `yaml:"doc,omitempty"`
}

// ids expands the item group into external ids.
func (s ItemSpec) ids() []string {
	if s.Count == 0 {
		return []string{s.ID}
	}
	width := len(strconv.Itoa(s.Count - 1))
	if width < 3 {
		width = 3
	}
	out := make([]string, s.Count)
	for i := range out {
		out[i] = fmt.Sprintf("%s%0*d", s.Prefix, width, i)
	}
	return out
}

// FailureSpec scripts connector errors. List failures are consumed by
// successive ListChanged calls of any type. Batch failures are keyed by the
// first id of a batch; Errors are consumed one per fetch and Always fails
// every fetch.
type FailureSpec struct {
	List   bool     `yaml:"list,omitempty"`
	Batch  string   `yaml:"batch,omitempty"`
	Errors []string `yaml:"errors,omitempty"`
	Always string   `yaml:"always,omitempty"`
}

// Step adds items, then optionally runs a sync.
type Step struct {
	Add  []ItemSpec `yaml:"add,omitempty"`
	Sync *SyncStep  `yaml:"sync,omitempty"`

	// Sleeps are the backoff delays the step must take, in order.
	Sleeps []string `yaml:"sleeps,omitempty"`

	// Error is a substring the sync error must contain. Empty means no error.
	Error string `yaml:"error,omitempty"`

	Expect []RunExpect `yaml:"expect,omitempty"`
}

// SyncStep runs Coordinator.SyncSource.
type SyncStep struct {
	Source string   `yaml:"source"`
	Types  []string `yaml:"types,omitempty"`
	Full   bool     `yaml:"full,omitempty"`
}

// RunExpect checks the run of one type. Unset fields are not checked.
type RunExpect struct {
	Type          string         `yaml:"type"`
	Status        string         `yaml:"status,omitempty"`
	Counts        map[string]int `yaml:"counts,omitempty"`
	FailedBatches *int           `yaml:"failed_batches,omitempty"`
	ErrorKinds    []string       `yaml:"error_kinds,omitempty"`
	Watermark     string         `yaml:"watermark,omitempty"`
}

// Assertion checks the final mirror.
type Assertion struct {
	Check string `yaml:"check"`

	Source string `yaml:"source,omitempty"`
	Type   string `yaml:"type,omitempty"`
	Count  *int   `yaml:"count,omitempty"`

	Key    string         `yaml:"key,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`
	Kind string `yaml:"kind,omitempty"`
}

// Assertion check names.
const (
	CheckItemCount = "item_count"
	CheckItem      = "item"
	CheckEdge      = "edge"
	CheckNoEdge    = "no_edge"
)

// Watermark expectation forms.
const (
	WatermarkRunStart  = "run_start"
	WatermarkUnset     = "unset"
	WatermarkUnchanged = "unchanged"
	watermarkItem      = "item:"
)

var countFields = map[string]bool{
	"processed": true, "created": true, "updated": true, "unchanged": true, "failed": true,
}

var itemFields = map[string]bool{
	"title": true, "description": true, "status": true, "version": true, "parent": true, "cross_ref": true,
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, item := range s.Items {
		if err := validateItem(fmt.Sprintf("items[%d]", i), item); err != nil {
			return err
		}
	}

	for i, f := range s.Failures {
		switch {
		case f.List == (f.Batch != ""):
			return fmt.Errorf("failures[%d]: exactly one of list or batch is required", i)
		case len(f.Errors) == 0 && f.Always == "":
			return fmt.Errorf("failures[%d]: errors or always is required", i)
		case f.List && f.Always != "":
			return fmt.Errorf("failures[%d]: always is only supported for batches", i)
		}
		for _, e := range append(append([]string(nil), f.Errors...), f.Always) {
			if e == "" {
				continue
			}
			if _, err := scriptedError(e); err != nil {
				return fmt.Errorf("failures[%d]: %w", i, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(where string, item ItemSpec) error {
	if _, _, err := sourceAndType(item.Source, item.Type); err != nil {
		return fmt.Errorf("%s: %w", where, err)
	}
	if (item.ID == "") == (item.Count == 0) {
		return fmt.Errorf("%s: exactly one of id or count is required", where)
	}
	if item.Count < 0 {
		return fmt.Errorf("%s: count must be positive", where)
	}
	return nil
}

func validateStep(i int, step Step) error {
	for j, item := range step.Add {
		if err := validateItem(fmt.Sprintf("steps[%d].add[%d]", i, j), item); err != nil {
			return err
		}
	}
	if step.Sync == nil {
		if len(step.Add) == 0 {
			return fmt.Errorf("steps[%d]: add or sync is required", i)
		}
		if len(step.Expect) > 0 || len(step.Sleeps) > 0 || step.Error != "" {
			return fmt.Errorf("steps[%d]: expectations require a sync", i)
		}
		return nil
	}

	src, err := ir.ParseSourceSystem(step.Sync.Source)
	if err != nil {
		return fmt.Errorf("steps[%d].sync: %w", i, err)
	}
	for _, t := range step.Sync.Types {
		if _, _, err := sourceAndType(string(src), t); err != nil {
			return fmt.Errorf("steps[%d].sync: %w", i, err)
		}
	}
	for _, d := range step.Sleeps {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("steps[%d].sleeps: %w", i, err)
		}
	}
	for j, e := range step.Expect {
		where := fmt.Sprintf("steps[%d].expect[%d]", i, j)
		if _, _, err := sourceAndType(string(src), e.Type); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		for k := range e.Counts {
			if !countFields[k] {
				return fmt.Errorf("%s: unknown count %q", where, k)
			}
		}
		switch {
		case e.Watermark == "", e.Watermark == WatermarkRunStart, e.Watermark == WatermarkUnset,
			e.Watermark == WatermarkUnchanged:
		case strings.HasPrefix(e.Watermark, watermarkItem) && len(e.Watermark) > len(watermarkItem):
		default:
			return fmt.Errorf("%s: invalid watermark expectation %q", where, e.Watermark)
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Check {
	case "":
		return fmt.Errorf("assertions[%d]: check is required", index)
	case CheckItemCount:
		if _, _, err := sourceAndType(a.Source, a.Type); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for item_count", index)
		}
	case CheckItem:
		if _, err := ir.ParseItemKey(a.Key); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for item", index)
		}
		for f := range a.Expect {
			if !itemFields[f] {
				return fmt.Errorf("assertions[%d]: unknown item field %q", index, f)
			}
		}
	case CheckEdge, CheckNoEdge:
		if _, err := ir.ParseItemKey(a.From); err != nil {
			return fmt.Errorf("assertions[%d].from: %w", index, err)
		}
		if _, err := ir.ParseItemKey(a.To); err != nil {
			return fmt.Errorf("assertions[%d].to: %w", index, err)
		}
		if !ir.RelationKind(a.Kind).Valid() {
			return fmt.Errorf("assertions[%d]: unknown relation kind %q", index, a.Kind)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown check %q", index, a.Check)
	}
	return nil
}

func sourceAndType(source, typ string) (ir.SourceSystem, ir.ItemType, error) {
	src, err := ir.ParseSourceSystem(source)
	if err != nil {
		return "", "", err
	}
	t, err := ir.ParseItemType(typ)
	if err != nil {
		return "", "", err
	}
	if !t.BelongsTo(src) {
		return "", "", fmt.Errorf("%s is not a %s type", t, src)
	}
	return src, t, nil
}

// scriptedError turns a failure token into a connector error: an HTTP status
// code, or "network" for a connection-level failure.
func scriptedError(token string) (error, error) {
	if token == "network" {
		return &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, nil
	}
	status, err := strconv.Atoi(token)
	if err != nil || status < 400 || status > 599 {
		return nil, fmt.Errorf("invalid scripted error %q: want an HTTP error status or \"network\"", token)
	}
	return connector.ClassifyStatus(status, "scripted"), nil
}
