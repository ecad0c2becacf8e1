package harness

import (
	"time"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/ir"
)

// StepResult is what one scenario step produced.
type StepResult struct {
	Index  int
	Source ir.SourceSystem
	Runs   []ir.SyncRun
	Edges  cache.EdgeReport
	Err    error

	// Sleeps are the backoff delays taken during the step.
	Sleeps []time.Duration

	// Before and After hold the watermarks of the synced types around the
	// step. Types without a watermark are absent.
	Before map[ir.ItemType]time.Time
	After  map[ir.ItemType]time.Time
}

// Run returns the step's run of typ.
func (s StepResult) Run(typ ir.ItemType) (ir.SyncRun, bool) {
	for _, r := range s.Runs {
		if r.Type == typ {
			return r, true
		}
	}
	return ir.SyncRun{}, false
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool

	Steps []StepResult

	// Errors lists every failed expectation and assertion.
	Errors []string
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
