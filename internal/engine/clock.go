package engine

import (
	"context"
	"time"
)

// Clock supplies wall time and context-aware sleeps to the coordinator.
//
// Watermarks are wall-clock instants because the remote change listings are
// keyed by time. Backoff sleeps go through the clock so tests can run the
// retry schedule without waiting.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep waits for d. It never holds a lock; callers release theirs first.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
