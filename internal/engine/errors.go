package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/planmirror/internal/ir"
)

// ErrRunInProgress is returned when a run is requested for a (source, type)
// that already has a run in flight.
var ErrRunInProgress = errors.New("sync run already in progress for this entity type")

// RuntimeError represents an invariant violation detected by the coordinator.
//
// Runtime errors are programming or data-integrity guards, not external data
// failures; those degrade the SyncRun instead. Runtime errors include:
//   - Watermark advance blocked: a computed watermark would move backwards
//     or past a batch that did not commit
//   - Illegal phase transition: the per-batch state machine was driven
//     out of order
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	Source ir.SourceSystem
	Type   ir.ItemType

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeWatermarkAdvanceBlocked guards the watermark invariants.
	ErrCodeWatermarkAdvanceBlocked RuntimeErrorCode = "WATERMARK_ADVANCE_BLOCKED"

	// ErrCodeIllegalTransition indicates an out-of-order phase change.
	ErrCodeIllegalTransition RuntimeErrorCode = "ILLEGAL_TRANSITION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run=%s, type=%s/%s)", e.Code, e.Message, e.RunID, e.Source, e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsWatermarkAdvanceBlocked returns true if the error is a watermark guard error.
// Uses errors.As to handle wrapped errors.
func IsWatermarkAdvanceBlocked(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeWatermarkAdvanceBlocked
	}
	return false
}

// IsIllegalTransition returns true if the error is a phase machine error.
func IsIllegalTransition(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeIllegalTransition
	}
	return false
}

// NewWatermarkAdvanceBlocked creates a RuntimeError for a refused watermark write.
func NewWatermarkAdvanceBlocked(run ir.SyncRun, current, proposed time.Time, reason string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeWatermarkAdvanceBlocked,
		Message: reason,
		RunID:   run.ID,
		Source:  run.Source,
		Type:    run.Type,
		Details: map[string]string{
			"current":  current.Format(time.RFC3339Nano),
			"proposed": proposed.Format(time.RFC3339Nano),
		},
	}
}

// NewIllegalTransition creates a RuntimeError for an out-of-order phase change.
func NewIllegalTransition(from, to Phase) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeIllegalTransition,
		Message: fmt.Sprintf("illegal phase transition %s -> %s", from, to),
		Details: map[string]string{"from": string(from), "to": string(to)},
	}
}
