// Package redis implements the pulse persistence contracts on Redis.
// Jobs are stored as Hashes with Sorted Sets providing the priority
// ordering and retry scheduling, idempotency reservations use SET NX
// with expiry, and rate-limit counters use INCR with an idempotent
// expiry-set. These primitives give the cross-process atomicity the
// queue, dedup, and limiter contracts require.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/idempotency"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/ratelimit"
)

// Compile-time interface checks.
var (
	_ job.Store              = (*Store)(nil)
	_ dlq.Store              = (*Store)(nil)
	_ idempotency.Store      = (*Store)(nil)
	_ ratelimit.CounterStore = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite persistence contracts backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
