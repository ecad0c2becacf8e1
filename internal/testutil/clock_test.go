package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_DefaultStart(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	clock.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), clock.Now())
	assert.Empty(t, clock.Sleeps(), "Advance is not a sleep")
}

func TestFakeClock_SleepRecordsAndAdvances(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	require.NoError(t, clock.Sleep(context.Background(), 500*time.Millisecond))
	require.NoError(t, clock.Sleep(context.Background(), time.Second))

	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, clock.Sleeps())
	assert.Equal(t, start.Add(1500*time.Millisecond), clock.Now())
}

func TestFakeClock_SleepHonorsCancelledContext(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := clock.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, clock.Sleeps())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	start := clock.Now()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = clock.Sleep(context.Background(), time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, clock.Sleeps(), 1000)
	assert.Equal(t, start.Add(time.Second), clock.Now())
}
