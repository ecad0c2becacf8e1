package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planmirror/internal/ir"
)

func TestWatermarks(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetWatermark(ctx, ir.SourcePlanning, ir.TypeFeature)
	require.ErrorIs(t, err, ErrNotFound)

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC)
	wm := ir.SyncWatermark{
		Source:    ir.SourcePlanning,
		Type:      ir.TypeFeature,
		Watermark: t0,
		RunID:     "run-1",
		UpdatedAt: t0.Add(time.Second),
	}
	require.NoError(t, s.PutWatermark(ctx, wm))

	got, err := s.GetWatermark(ctx, ir.SourcePlanning, ir.TypeFeature)
	require.NoError(t, err)
	assert.True(t, got.Watermark.Equal(t0))
	assert.Equal(t, "run-1", got.RunID)

	t.Run("forward", func(t *testing.T) {
		next := wm
		next.Watermark = t0.Add(time.Hour)
		next.RunID = "run-2"
		require.NoError(t, s.PutWatermark(ctx, next))

		got, err := s.GetWatermark(ctx, ir.SourcePlanning, ir.TypeFeature)
		require.NoError(t, err)
		assert.Equal(t, "run-2", got.RunID)
	})

	t.Run("backwards is rejected", func(t *testing.T) {
		back := wm
		back.RunID = "run-3"
		err := s.PutWatermark(ctx, back)
		assert.ErrorIs(t, err, ErrWatermarkRegression)

		got, err := s.GetWatermark(ctx, ir.SourcePlanning, ir.TypeFeature)
		require.NoError(t, err)
		assert.Equal(t, "run-2", got.RunID)
		assert.True(t, got.Watermark.Equal(t0.Add(time.Hour)))
	})

	t.Run("zero is rejected", func(t *testing.T) {
		zero := wm
		zero.Watermark = time.Time{}
		assert.Error(t, s.PutWatermark(ctx, zero))
	})

	t.Run("out of nanosecond range is rejected", func(t *testing.T) {
		for _, at := range []time.Time{
			time.Time{}.Add(-time.Nanosecond),
			time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
		} {
			bad := wm
			bad.Watermark = at
			assert.ErrorIs(t, s.PutWatermark(ctx, bad), ErrTimeOutOfRange, "%s", at)
		}

		got, err := s.GetWatermark(ctx, ir.SourcePlanning, ir.TypeFeature)
		require.NoError(t, err)
		assert.True(t, got.Watermark.Equal(t0.Add(time.Hour)))
	})

	all, err := s.ListWatermarks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ir.TypeFeature, all[0].Type)
}
