package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Flusher persists buffered alert state.
type Flusher interface {
	Flush(ctx context.Context) error
	Pending() int
}

// Pruner deletes quote history older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Sweeper drops expired entries from a process-local cache.
type Sweeper interface {
	Purge() int
}

// HousekeepingOptions configure background maintenance jobs. Zero values
// disable the corresponding job.
type HousekeepingOptions struct {
	Flusher       Flusher
	FlushInterval time.Duration
	Pruner        Pruner
	Retention     time.Duration
	PruneAt       string
	Sweepers      []Sweeper
	SweepInterval time.Duration
	Location      *time.Location
	JobTimeout    time.Duration
	// OnFlush is called with the pending count after each flush attempt.
	OnFlush func(pending int)
}

// Housekeeping runs maintenance jobs on a cron scheduler.
type Housekeeping struct {
	opts   HousekeepingOptions
	cron   *gocron.Scheduler
	logger zerolog.Logger
}

// NewHousekeeping registers the configured jobs without starting them.
func NewHousekeeping(opts HousekeepingOptions, logger zerolog.Logger) (*Housekeeping, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Minute
	}

	h := &Housekeeping{
		opts:   opts,
		cron:   gocron.NewScheduler(opts.Location),
		logger: logger.With().Str("component", "housekeeping").Logger(),
	}
	h.cron.SingletonModeAll()

	if opts.Flusher != nil && opts.FlushInterval > 0 {
		if _, err := h.cron.Every(opts.FlushInterval).Do(h.FlushStates); err != nil {
			return nil, fmt.Errorf("schedule state flush: %w", err)
		}
	}
	if opts.Pruner != nil && opts.Retention > 0 && opts.PruneAt != "" {
		if _, err := h.cron.Every(1).Day().At(opts.PruneAt).Do(h.PruneQuotes); err != nil {
			return nil, fmt.Errorf("schedule quote pruning at %q: %w", opts.PruneAt, err)
		}
	}
	if len(opts.Sweepers) > 0 && opts.SweepInterval > 0 {
		if _, err := h.cron.Every(opts.SweepInterval).Do(h.SweepCaches); err != nil {
			return nil, fmt.Errorf("schedule cache sweep: %w", err)
		}
	}
	return h, nil
}

// Jobs reports how many jobs are registered.
func (h *Housekeeping) Jobs() int {
	return len(h.cron.Jobs())
}

// Start runs the jobs in the background.
func (h *Housekeeping) Start() {
	h.cron.StartAsync()
	h.logger.Info().Int("jobs", h.Jobs()).Msg("housekeeping started")
}

// Stop halts the cron scheduler and waits for running jobs.
func (h *Housekeeping) Stop() {
	h.cron.Stop()
	h.logger.Info().Msg("housekeeping stopped")
}

// FlushStates writes buffered alert state.
func (h *Housekeeping) FlushStates() {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.JobTimeout)
	defer cancel()

	if err := h.opts.Flusher.Flush(ctx); err != nil {
		h.logger.Error().Err(err).Msg("state flush failed")
	}
	if h.opts.OnFlush != nil {
		h.opts.OnFlush(h.opts.Flusher.Pending())
	}
}

// PruneQuotes deletes quote history beyond the retention window.
func (h *Housekeeping) PruneQuotes() {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.JobTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-h.opts.Retention)
	removed, err := h.opts.Pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		h.logger.Error().Err(err).Time("cutoff", cutoff).Msg("quote pruning failed")
		return
	}
	h.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("quote history pruned")
}

// SweepCaches purges expired cache entries.
func (h *Housekeeping) SweepCaches() {
	removed := 0
	for _, sweeper := range h.opts.Sweepers {
		removed += sweeper.Purge()
	}
	if removed > 0 {
		h.logger.Debug().Int("removed", removed).Msg("cache entries purged")
	}
}
