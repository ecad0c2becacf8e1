package cache

import (
	"fmt"

	"github.com/roach88/planmirror/internal/ir"
)

// ReconciliationConflict records an incoming record that lost against the
// stored one. It is resolved by policy (the stored row wins) and is never
// returned as a failure; the Reconciler logs and counts it.
type ReconciliationConflict struct {
	Key             ir.ItemKey
	IncomingVersion int64
	StoredVersion   int64
	IncomingHash    string
	StoredHash      string
}

// Error implements the error interface.
func (c *ReconciliationConflict) Error() string {
	if c.IncomingVersion == c.StoredVersion {
		return fmt.Sprintf("reconciliation conflict on %s: version %d already stored with different content",
			c.Key, c.StoredVersion)
	}
	return fmt.Sprintf("reconciliation conflict on %s: incoming version %d is older than stored %d",
		c.Key, c.IncomingVersion, c.StoredVersion)
}
