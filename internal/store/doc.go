// Package store provides the SQLite-backed cache repository.
//
// The store holds four tables:
//   - items: mirrored canonical items, one row per item key
//   - relations: derived edges, keyed by content-addressed relation id
//   - watermarks: last synced point per (source system, item type)
//   - sync_runs: audit records of sync runs
//
// # Write Rules
//
// Item upserts are version-checked inside a single transaction. The final
// write is a conditional ON CONFLICT ... DO UPDATE ... WHERE
// excluded.version > items.version, so a stale writer can never lower a
// stored version even if it raced past the read.
//
// Remote upserts never touch local_edits and never clear a stored
// cross_system_ref.
//
// Watermarks only move forward; runs are finalized exactly once.
//
// # Deterministic Reads
//
// Every list query has a total ORDER BY with COLLATE BINARY on text keys so
// repeated reads of the same state return identical slices.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payload columns are stored as canonical JSON produced by internal/ir.
package store
