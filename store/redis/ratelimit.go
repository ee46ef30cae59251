package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// IncrCounter atomically increments the window counter for key. The
// expiry is attached with ExpireNX, which only sets an expiry on a key
// that has none, so the benign race where two first-increment callers
// both try to seed it never extends the window.
func (s *Store) IncrCounter(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ck := counterKey(key)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, ck)
	pipe.ExpireNX(ctx, ck, window)
	ttl := pipe.PTTL(ctx, ck)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("pulse/redis: incr counter: %w", err)
	}

	expiresIn := ttl.Val()
	if expiresIn < 0 {
		// PTTL reports a negative duration for keys without expiry; the
		// ExpireNX in the same pipeline makes this unreachable in
		// practice, but fall back to the window rather than report
		// nonsense.
		expiresIn = window
	}
	return incr.Val(), expiresIn, nil
}

// PeekCounter returns the current count and remaining lifetime without
// consuming a slot. An absent counter reads as (0, 0, nil).
func (s *Store) PeekCounter(ctx context.Context, key string) (int64, time.Duration, error) {
	ck := counterKey(key)

	count, err := s.client.Get(ctx, ck).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("pulse/redis: peek counter: %w", err)
	}

	expiresIn, err := s.client.PTTL(ctx, ck).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("pulse/redis: peek counter ttl: %w", err)
	}
	if expiresIn < 0 {
		expiresIn = 0
	}
	return count, expiresIn, nil
}
