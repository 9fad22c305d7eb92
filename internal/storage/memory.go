package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
)

// Memory is a process-local Repository used when no DSN is configured and
// in tests.
type Memory struct {
	mu     sync.Mutex
	alerts map[string]engine.Alert
	states map[string]engine.State
	quotes map[string][]quote.Record
	locks  map[int64]bool
	now    func() time.Time
}

// NewMemory constructs an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		alerts: make(map[string]engine.Alert),
		states: make(map[string]engine.State),
		quotes: make(map[string][]quote.Record),
		locks:  make(map[int64]bool),
		now:    time.Now,
	}
}

// Migrate is a no-op.
func (m *Memory) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() {}

// TryAdvisoryLock emulates a non-reentrant advisory lock.
func (m *Memory) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}, true, nil
}

func (m *Memory) ListAlerts(context.Context) ([]engine.Alert, error) {
	return m.filterAlerts(func(engine.Alert) bool { return true }), nil
}

func (m *Memory) ListActive(context.Context) ([]engine.Alert, error) {
	return m.filterAlerts(func(a engine.Alert) bool { return a.Status == engine.StatusActive }), nil
}

func (m *Memory) ListBySymbol(_ context.Context, symbol string) ([]engine.Alert, error) {
	symbol = quote.NormalizeSymbol(symbol)
	return m.filterAlerts(func(a engine.Alert) bool { return a.Symbol == symbol }), nil
}

func (m *Memory) filterAlerts(keep func(engine.Alert) bool) []engine.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]engine.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) GetAlert(_ context.Context, id string) (engine.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return engine.Alert{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) CreateAlert(_ context.Context, alert engine.Alert) (engine.Alert, error) {
	alert = prepareAlert(alert)
	if err := alert.Validate(); err != nil {
		return engine.Alert{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	alert.ID = uuid.NewString()
	alert.CreatedAt, alert.UpdatedAt = now, now
	m.alerts[alert.ID] = alert
	return alert, nil
}

func (m *Memory) UpdateAlert(_ context.Context, alert engine.Alert) (engine.Alert, error) {
	alert = prepareAlert(alert)
	if err := alert.Validate(); err != nil {
		return engine.Alert{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.alerts[alert.ID]
	if !ok {
		return engine.Alert{}, ErrNotFound
	}
	alert.CreatedAt = existing.CreatedAt
	alert.UpdatedAt = m.now().UTC()
	m.alerts[alert.ID] = alert
	return alert, nil
}

func (m *Memory) DeleteAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, id)
	delete(m.states, id)
	return nil
}

func (m *Memory) GetLatest(_ context.Context, symbol string) (*quote.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.quotes[quote.NormalizeSymbol(symbol)]
	if len(history) == 0 {
		return nil, nil
	}
	latest := history[len(history)-1]
	return &latest, nil
}

func (m *Memory) Insert(_ context.Context, rec quote.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append(m.quotes[rec.Symbol], rec)
	sort.SliceStable(history, func(i, j int) bool { return history[i].Timestamp < history[j].Timestamp })
	m.quotes[rec.Symbol] = history
	return nil
}

func (m *Memory) ListHistory(_ context.Context, symbol string, from, to time.Time, limit int) ([]quote.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]quote.Record, 0)
	for _, rec := range m.quotes[quote.NormalizeSymbol(symbol)] {
		t := rec.Time()
		if t.Before(from) || !t.Before(to) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListRecent(_ context.Context, limit int) ([]quote.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]quote.Record, 0)
	for _, history := range m.quotes {
		out = append(out, history...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Symbol < out[j].Symbol
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PruneBefore(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for symbol, history := range m.quotes {
		kept := history[:0]
		for _, rec := range history {
			if rec.Time().Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(m.quotes, symbol)
			continue
		}
		m.quotes[symbol] = kept
	}
	return removed, nil
}

func (m *Memory) LoadStates(_ context.Context, ids []string) (map[string]engine.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]engine.State, len(ids))
	for _, id := range ids {
		if st, ok := m.states[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (m *Memory) SaveStates(_ context.Context, states map[string]engine.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range states {
		if _, ok := m.alerts[id]; !ok {
			continue
		}
		m.states[id] = st
	}
	return nil
}

var (
	_ Repository = (*Memory)(nil)
	_ Repository = (*Store)(nil)
)
