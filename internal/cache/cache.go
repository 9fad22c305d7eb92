// Package cache provides time-boxed key/value stores used as a best-effort
// layer in front of durable storage. An empty cache is always a valid state.
package cache

import (
	"context"
	"time"
)

// Entry is a cached value with its freshness window.
type Entry[T any] struct {
	Data      T         `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewEntry builds an entry expiring ttl after now.
func NewEntry[T any](value T, now time.Time, ttl time.Duration) Entry[T] {
	return Entry[T]{Data: value, CachedAt: now, ExpiresAt: now.Add(ttl)}
}

// ExpiredAt reports whether the entry is past its expiry at t.
func (e Entry[T]) ExpiredAt(t time.Time) bool {
	return !t.Before(e.ExpiresAt)
}

// Age returns how long ago the entry was cached.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// Store is a TTL cache. Get only returns unexpired entries; GetStale returns
// whatever is retained, leaving the expiry decision to the caller.
type Store[T any] interface {
	Get(ctx context.Context, key string) (Entry[T], bool)
	GetStale(ctx context.Context, key string) (Entry[T], bool)
	Set(ctx context.Context, key string, value T, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

// Clock returns the current time.
type Clock func() time.Time
