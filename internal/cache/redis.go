package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is a Store shared between processes. Each key holds a JSON encoded
// Entry; the Redis key itself lives for ttl plus the stale retention so that
// stale reads keep working after logical expiry.
type Redis[T any] struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       Clock
	logger    zerolog.Logger
}

// NewRedis wraps an existing client.
func NewRedis[T any](client redis.UniversalClient, prefix string, retention time.Duration, logger zerolog.Logger) *Redis[T] {
	return &Redis[T]{
		client:    client,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
		logger:    logger.With().Str("component", "redis_cache").Logger(),
	}
}

// Ping checks the connection to the Redis server.
func (r *Redis[T]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis[T]) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

// Get returns the entry when it has not expired.
func (r *Redis[T]) Get(ctx context.Context, key string) (Entry[T], bool) {
	entry, ok := r.GetStale(ctx, key)
	if !ok || entry.ExpiredAt(r.now()) {
		return Entry[T]{}, false
	}
	return entry, true
}

// GetStale returns the retained entry regardless of expiry. Redis errors are
// logged and reported as a miss.
func (r *Redis[T]) GetStale(ctx context.Context, key string) (Entry[T], bool) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return Entry[T]{}, false
	}

	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		return Entry[T]{}, false
	}
	return entry, true
}

// Set stores value with ttl.
func (r *Redis[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	entry := NewEntry(value, r.now(), ttl)
	raw, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("encode cache entry")
		return
	}

	if err := r.client.Set(ctx, r.key(key), raw, ttl+r.retention).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Invalidate drops key.
func (r *Redis[T]) Invalidate(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("redis del failed")
	}
}

var _ Store[int] = (*Redis[int])(nil)
