package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, Config{
		BatchSize:   200,
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Workers:     4,
	}, cfg)
	require.NoError(t, cfg.Validate())

	custom := Config{BatchSize: 50, Workers: 1}.WithDefaults()
	assert.Equal(t, 50, custom.BatchSize)
	assert.Equal(t, 1, custom.Workers)
	assert.Equal(t, DefaultMaxAttempts, custom.MaxAttempts)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"negative batch", Config{BatchSize: -1}, "batch size"},
		{"negative attempts", Config{MaxAttempts: -2}, "max attempts"},
		{"negative base", Config{BaseDelay: -time.Second, MaxDelay: time.Second}, "base delay"},
		{"max below base", Config{BaseDelay: time.Minute, MaxDelay: time.Second}, "max delay"},
		{"negative workers", Config{Workers: -1}, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_BackoffDoublesUpToCap(t *testing.T) {
	cfg := Config{}.WithDefaults()

	var got []time.Duration
	for n := 0; n < 8; n++ {
		got = append(got, cfg.Backoff(n))
	}
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, got)

	assert.Equal(t, 30*time.Second, cfg.Backoff(1000), "large exponents must not overflow")
}
