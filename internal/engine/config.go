package engine

import (
	"fmt"
	"time"
)

// Defaults for Config.
const (
	DefaultBatchSize   = 200
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
	DefaultWorkers     = 4
)

// Config tunes the coordinator. Zero fields take the defaults above.
type Config struct {
	// BatchSize is the number of ids per FetchBatch call.
	BatchSize int

	// MaxAttempts bounds tries per batch fetch, listing page and upsert,
	// the first try included.
	MaxAttempts int

	// BaseDelay and MaxDelay shape the backoff: delay = min(base * 2^n, max)
	// before retry n+1.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Workers bounds concurrently dispatched batches per run.
	Workers int
}

// WithDefaults returns c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// Validate rejects negative or inconsistent settings.
func (c Config) Validate() error {
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	case c.BaseDelay < 0:
		return fmt.Errorf("base delay must not be negative, got %s", c.BaseDelay)
	case c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("max delay %s is below base delay %s", c.MaxDelay, c.BaseDelay)
	case c.Workers < 1:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Backoff returns the delay before retry n+1 (n counts from 0).
func (c Config) Backoff(n int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < n; i++ {
		if d >= c.MaxDelay/2 {
			return c.MaxDelay
		}
		d *= 2
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}
