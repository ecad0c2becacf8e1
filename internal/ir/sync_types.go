package ir

import "time"

// NOTE: These records belong to the sync coordinator, not to the item cache.
// Only engine.Coordinator creates or mutates them.

// SyncWatermark is the last successfully synced point for one entity type.
type SyncWatermark struct {
	Source    SourceSystem `json:"source_system"`
	Type      ItemType     `json:"item_type"`
	Watermark time.Time    `json:"watermark"`
	RunID     string       `json:"run_id"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RunStatus is the terminal outcome of a SyncRun.
type RunStatus string

const (
	// RunRunning marks a run that has been created but not finalized.
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFailed  RunStatus = "FAILED"
)

// Terminal reports whether the status is a finalized outcome.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunPartial || s == RunFailed
}

// RunErrorKind classifies an entry in a SyncRun's error list.
type RunErrorKind string

const (
	RunErrNormalization RunErrorKind = "normalization"
	RunErrFetch         RunErrorKind = "fetch"
	RunErrReconcile     RunErrorKind = "reconcile"
	RunErrList          RunErrorKind = "list"
	RunErrCancelled     RunErrorKind = "cancelled"
	RunErrWatermark     RunErrorKind = "watermark"
)

// RunError is one structured failure recorded against a run.
// Batch is -1 when the failure is not tied to a batch.
type RunError struct {
	Kind       RunErrorKind `json:"kind"`
	Batch      int          `json:"batch"`
	ExternalID string       `json:"external_id,omitempty"`
	Message    string       `json:"message"`
}

// RunCounts are the item-level totals of a run.
type RunCounts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Add accumulates other into c.
func (c *RunCounts) Add(other RunCounts) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Unchanged += other.Unchanged
	c.Failed += other.Failed
}

// SyncRun is the audit record of one sync invocation for one entity type.
// It is created at start and finalized exactly once; it is immutable after.
type SyncRun struct {
	ID            string       `json:"id"`
	Source        SourceSystem `json:"source_system"`
	Type          ItemType     `json:"item_type"`
	Full          bool         `json:"full"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at,omitempty"`
	Status        RunStatus    `json:"status"`
	Counts        RunCounts    `json:"counts"`
	Batches       int          `json:"batches"`
	FailedBatches int          `json:"failed_batches"`
	Errors        []RunError   `json:"errors,omitempty"`
}
