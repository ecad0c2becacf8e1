// Package engine implements the incremental sync coordinator.
//
// A sync run mirrors one entity type of one source system into the local
// cache. The coordinator lists ids changed since the stored watermark, splits
// them into batches, and drives each batch through a small state machine:
//
//	IDLE -> FETCHING -> NORMALIZING -> RECONCILING -> COMMITTED | FAILED
//
// ARCHITECTURE:
//
// Bounded worker pool:
// Batches are dispatched through an errgroup with a concurrency limit. A
// failed batch never aborts its siblings; the run degrades to PARTIAL.
//
// Retry:
// Transient fetch errors (5xx, network) are retried with exponential backoff
// through the Clock, so tests run without real sleeps. Permanent errors
// (4xx, rate limits, not found) fail the batch on the first attempt.
//
// Watermark:
// A fully successful run moves the watermark to its start time. A partial
// run moves it to the end of the contiguous committed prefix, strictly below
// the first batch that did not commit. It never moves backwards.
//
// CRITICAL PATTERNS:
//
// One run per type:
// A second RunType for the same (source, type) returns ErrRunInProgress
// instead of queuing.
//
// Cancellation:
// Cancelling ctx stops dispatch and aborts in-flight fetches. A batch already
// fetched is still reconciled in full, and the run record is always
// finalized.
package engine
