package engine

import (
	"context"
	"fmt"
)

// retryable classifies an error for the retry loop.
type retryable func(error) bool

// retry runs fn until it succeeds, fails with a non-retryable error, the
// attempt budget is spent, or ctx is done. Backoff sleeps happen between
// attempts through the clock. onRetry, when set, observes each retryable
// failure before its sleep.
//
// Returns the number of attempts made.
func retry(ctx context.Context, clock Clock, cfg Config, isRetryable retryable,
	onRetry func(attempt int, err error), fn func(ctx context.Context) error) (int, error) {

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := clock.Sleep(ctx, cfg.Backoff(attempt-1)); err != nil {
				return attempt, fmt.Errorf("retry interrupted after %d attempts (last error: %v): %w", attempt, lastErr, err)
			}
		}
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return attempt + 1, err
		}
		if onRetry != nil && attempt+1 < cfg.MaxAttempts {
			onRetry(attempt+1, err)
		}
	}
	return cfg.MaxAttempts, fmt.Errorf("gave up after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
