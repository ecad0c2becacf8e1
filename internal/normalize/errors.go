package normalize

import (
	"errors"
	"fmt"

	"github.com/roach88/planmirror/internal/ir"
)

// NormalizationError reports a payload that could not become a canonical item.
// It aborts only that record, never the batch it arrived in.
type NormalizationError struct {
	Source     ir.SourceSystem
	Type       ir.ItemType
	ExternalID string // empty when the id itself is missing
	Field      string
	Reason     string

	// Index is the position of the payload in its batch, -1 if unknown.
	Index int
}

// Error implements the error interface.
func (e *NormalizationError) Error() string {
	id := e.ExternalID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("normalize %s %s %s: %s: %s", e.Source, e.Type, id, e.Field, e.Reason)
}

// IsNormalizationError reports whether err is (or wraps) a NormalizationError.
func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}
