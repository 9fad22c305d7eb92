package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	require.Error(t, err)
}

func TestNextTickAligned(t *testing.T) {
	s, err := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 6, 3, 15, 2, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 3, 15, 5, 0, 0, time.UTC), s.nextTick(now))

	onBoundary := time.Date(2024, 6, 3, 15, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 3, 15, 10, 0, 0, time.UTC), s.nextTick(onBoundary))
	assert.Equal(t, onBoundary, s.bucketStart(onBoundary.Add(time.Second)))
}

func TestNextTickUnaligned(t *testing.T) {
	s, err := New(Options{Interval: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 6, 3, 15, 2, 30, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), s.nextTick(now))
	assert.Equal(t, now, s.bucketStart(now))
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	err = s.Run(ctx, func(context.Context, time.Time) error {
		if ticks.Add(1) == 3 {
			cancel()
		}
		return errors.New("failed ticks do not stop the loop")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), ticks.Load())
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx, func(context.Context, time.Time) error { return nil }), context.Canceled)
}
