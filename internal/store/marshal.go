package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roach88/planmirror/internal/ir"
)

// marshalPayload converts a raw payload to canonical JSON TEXT for storage.
func marshalPayload(doc ir.Document) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses stored payload TEXT. Numbers stay json.Number.
func unmarshalPayload(data string) (ir.Document, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	doc, err := ir.ParseDocument([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return doc, nil
}

func marshalContainers(c ir.Containers) (string, error) {
	obj := map[string]any{}
	if c.ProductID != "" {
		obj["product_id"] = c.ProductID
	}
	if c.ComponentID != "" {
		obj["component_id"] = c.ComponentID
	}
	if len(c.InitiativeIDs) > 0 {
		obj["initiative_ids"] = c.InitiativeIDs
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal containers: %w", err)
	}
	return string(data), nil
}

func unmarshalContainers(data string) (ir.Containers, error) {
	var c ir.Containers
	if data == "" || data == "{}" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return ir.Containers{}, fmt.Errorf("unmarshal containers: %w", err)
	}
	return c, nil
}

func marshalLocalEdits(edits map[string]string) (string, error) {
	if len(edits) == 0 {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(edits)
	if err != nil {
		return "", fmt.Errorf("marshal local edits: %w", err)
	}
	return string(data), nil
}

func unmarshalLocalEdits(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var edits map[string]string
	if err := json.Unmarshal([]byte(data), &edits); err != nil {
		return nil, fmt.Errorf("unmarshal local edits: %w", err)
	}
	return edits, nil
}

// marshalRunErrors converts a run's error list to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so messages stay readable.
func marshalRunErrors(errs []ir.RunError) (string, error) {
	if len(errs) == 0 {
		return "[]", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(errs); err != nil {
		return "", fmt.Errorf("marshal run errors: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalRunErrors(data string) ([]ir.RunError, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var errs []ir.RunError
	if err := json.Unmarshal([]byte(data), &errs); err != nil {
		return nil, fmt.Errorf("unmarshal run errors: %w", err)
	}
	return errs, nil
}

// Times outside these bounds overflow UnixNano.
var (
	minNanosTime = time.Unix(0, math.MinInt64).UTC()
	maxNanosTime = time.Unix(0, math.MaxInt64).UTC()
)

// inNanosRange reports whether t survives a round trip through toNanos.
func inNanosRange(t time.Time) bool {
	return t.IsZero() || (!t.Before(minNanosTime) && !t.After(maxNanosTime))
}

// toNanos encodes a time as UTC unix nanoseconds; the zero time maps to 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
