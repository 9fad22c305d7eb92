package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlusher struct {
	flushes int
	pending int
	err     error
}

func (f *fakeFlusher) Flush(context.Context) error {
	f.flushes++
	if f.err == nil {
		f.pending = 0
	}
	return f.err
}

func (f *fakeFlusher) Pending() int { return f.pending }

type fakePruner struct {
	cutoff time.Time
}

func (p *fakePruner) PruneBefore(_ context.Context, olderThan time.Time) (int64, error) {
	p.cutoff = olderThan
	return 3, nil
}

func TestHousekeepingRegistersConfiguredJobs(t *testing.T) {
	h, err := NewHousekeeping(HousekeepingOptions{
		Flusher:       &fakeFlusher{},
		FlushInterval: time.Second,
		Pruner:        &fakePruner{},
		Retention:     time.Hour,
		PruneAt:       "03:30",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, h.Jobs())

	h, err = NewHousekeeping(HousekeepingOptions{Flusher: &fakeFlusher{}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, h.Jobs(), "write-through state needs no flush job")
}

func TestHousekeepingRejectsBadPruneTime(t *testing.T) {
	_, err := NewHousekeeping(HousekeepingOptions{Pruner: &fakePruner{}, Retention: time.Hour, PruneAt: "25:99"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestFlushStatesReportsPending(t *testing.T) {
	flusher := &fakeFlusher{pending: 4, err: errors.New("db down")}
	var reported []int
	h, err := NewHousekeeping(HousekeepingOptions{Flusher: flusher, OnFlush: func(n int) { reported = append(reported, n) }}, zerolog.Nop())
	require.NoError(t, err)

	h.FlushStates()
	flusher.err = nil
	h.FlushStates()

	assert.Equal(t, 2, flusher.flushes)
	assert.Equal(t, []int{4, 0}, reported)
}

func TestPruneQuotesUsesRetention(t *testing.T) {
	pruner := &fakePruner{}
	h, err := NewHousekeeping(HousekeepingOptions{Pruner: pruner, Retention: 24 * time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	before := time.Now().UTC().Add(-24 * time.Hour)
	h.PruneQuotes()
	assert.WithinDuration(t, before, pruner.cutoff, time.Second)
}

type fakeSweeper struct{ calls int }

func (s *fakeSweeper) Purge() int {
	s.calls++
	return 2
}

func TestSweepCachesPurgesEverySweeper(t *testing.T) {
	a, b := &fakeSweeper{}, &fakeSweeper{}
	h, err := NewHousekeeping(HousekeepingOptions{
		Sweepers:      []Sweeper{a, b},
		SweepInterval: time.Minute,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, h.Jobs())

	h.SweepCaches()
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
