package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. Expired entries stay readable through
// GetStale until they age past the retention window.
type Memory[T any] struct {
	mu        sync.RWMutex
	entries   map[string]Entry[T]
	retention time.Duration
	now       Clock
}

// MemoryOption customises a Memory store.
type MemoryOption[T any] func(*Memory[T])

// WithClock overrides the time source.
func WithClock[T any](clock Clock) MemoryOption[T] {
	return func(m *Memory[T]) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithStaleRetention bounds how long expired entries are kept for stale reads.
// Zero keeps them until Purge or Invalidate.
func WithStaleRetention[T any](d time.Duration) MemoryOption[T] {
	return func(m *Memory[T]) {
		m.retention = d
	}
}

// NewMemory constructs an empty process-local store.
func NewMemory[T any](opts ...MemoryOption[T]) *Memory[T] {
	m := &Memory[T]{
		entries: make(map[string]Entry[T]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the entry when it has not expired.
func (m *Memory[T]) Get(_ context.Context, key string) (Entry[T], bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || entry.ExpiredAt(m.now()) {
		return Entry[T]{}, false
	}
	return entry, true
}

// GetStale returns the entry regardless of expiry, within retention.
func (m *Memory[T]) GetStale(_ context.Context, key string) (Entry[T], bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return Entry[T]{}, false
	}
	if m.retention > 0 && m.now().Sub(entry.ExpiresAt) > m.retention {
		m.Invalidate(context.Background(), key)
		return Entry[T]{}, false
	}
	return entry, true
}

// Set stores value with ttl.
func (m *Memory[T]) Set(_ context.Context, key string, value T, ttl time.Duration) {
	entry := NewEntry(value, m.now(), ttl)

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
}

// Invalidate drops key.
func (m *Memory[T]) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Purge removes entries expired longer than the retention window and returns
// how many were dropped.
func (m *Memory[T]) Purge() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if now.Sub(entry.ExpiresAt) > m.retention && entry.ExpiredAt(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of retained entries.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Store[int] = (*Memory[int])(nil)
