package ir

// Version constants for the canonical record schema and the sync engine.
const (
	// SchemaVersion is the canonical record schema version. It is folded into
	// content hashes so that a schema change invalidates stored hashes.
	SchemaVersion = "1"

	// EngineVersion is the planmirror engine version.
	EngineVersion = "0.1.0"
)
