package ir

// Outcome is the result of reconciling one incoming item against the cache.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// UpsertResult describes what a version-checked upsert did.
//
// Stored is the row as it exists after the call (local edits included).
// PreviousVersion is zero when the item was created.
type UpsertResult struct {
	Outcome         Outcome
	Stored          CanonicalItem
	PreviousVersion int64

	// Conflict is set when a versioned incoming record lost against the
	// stored one: it carried an older version, or the same version with
	// different content.
	Conflict bool
}
