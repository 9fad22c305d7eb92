// Package state keeps per-alert evaluation state between cycles.
package state

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog"

	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/storage"
)

// Buffered is the alert state store used by the evaluation cycle. With a
// zero flush interval every Save writes through; otherwise updates are held
// in memory until Flush and overlay durable reads in the meantime.
type Buffered struct {
	durable      storage.StateStore
	writeThrough bool
	logger       zerolog.Logger

	flushMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]engine.State
	inflight map[string]engine.State
}

// NewBuffered wraps durable. writeThrough is normally flush_interval == 0.
func NewBuffered(durable storage.StateStore, writeThrough bool, logger zerolog.Logger) *Buffered {
	return &Buffered{
		durable:      durable,
		writeThrough: writeThrough,
		logger:       logger.With().Str("component", "alert_state").Logger(),
		pending:      make(map[string]engine.State),
		inflight:     make(map[string]engine.State),
	}
}

// Load returns the state for ids. Missing ids are absent from the map.
// Buffered updates, including a batch that is being flushed, overlay the
// durable read.
func (b *Buffered) Load(ctx context.Context, ids []string) (map[string]engine.State, error) {
	before := b.overlay(ids)

	states, err := b.durable.LoadStates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load alert states: %w", err)
	}

	for id, st := range before {
		states[id] = st
	}
	for id, st := range b.overlay(ids) {
		states[id] = st
	}
	return states, nil
}

// overlay returns the buffered state for ids, pending over in-flight.
func (b *Buffered) overlay(ids []string) map[string]engine.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]engine.State)
	for _, id := range ids {
		if st, ok := b.pending[id]; ok {
			out[id] = st
		} else if st, ok := b.inflight[id]; ok {
			out[id] = st
		}
	}
	return out
}

// Save records updates. Write-through errors are returned; in buffered mode
// the updates are kept for the next Flush.
func (b *Buffered) Save(ctx context.Context, updates map[string]engine.State) error {
	if len(updates) == 0 {
		return nil
	}

	if b.writeThrough {
		if err := b.durable.SaveStates(ctx, updates); err != nil {
			return fmt.Errorf("save alert states: %w", err)
		}
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, st := range updates {
		b.pending[id] = st
	}
	return nil
}

// Forget drops any pending state for an alert that was deleted.
func (b *Buffered) Forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
	delete(b.inflight, id)
}

// Pending reports how many updates await a flush.
func (b *Buffered) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes pending updates. The batch stays visible to Load until the
// durable write returns. On failure it is merged back unless a newer update
// for the same alert arrived meanwhile.
func (b *Buffered) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.pending = make(map[string]engine.State)
	b.inflight = maps.Clone(batch)
	b.mu.Unlock()

	err := b.durable.SaveStates(ctx, batch)

	b.mu.Lock()
	if err != nil {
		for id, st := range b.inflight {
			if _, newer := b.pending[id]; !newer {
				b.pending[id] = st
			}
		}
	}
	b.inflight = make(map[string]engine.State)
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("flush alert states: %w", err)
	}
	b.logger.Debug().Int("count", len(batch)).Msg("alert states flushed")
	return nil
}

// Close flushes whatever is pending.
func (b *Buffered) Close(ctx context.Context) error {
	return b.Flush(ctx)
}
