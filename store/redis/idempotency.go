package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/idempotency"
)

// ReserveKey atomically claims key with SET NX EX. Exactly one caller
// wins a given key for the lifetime of the TTL, across processes.
func (s *Store) ReserveKey(ctx context.Context, key string, rec idempotency.Record, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("pulse/redis: marshal reservation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, idemKey(key), b, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("pulse/redis: reserve key: %w", err)
	}
	return ok, nil
}

// LookupKey returns the record for key if a live reservation exists.
// Expiry is Redis-native: an expired key simply reads as absent.
func (s *Store) LookupKey(ctx context.Context, key string) (*idempotency.Record, error) {
	val, err := s.client.Get(ctx, idemKey(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pulse.ErrIdempotencyNotFound
		}
		return nil, fmt.Errorf("pulse/redis: lookup key: %w", err)
	}

	var rec idempotency.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("pulse/redis: unmarshal reservation: %w", err)
	}
	return &rec, nil
}

// ReleaseKey removes a reservation.
func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idemKey(key)).Err(); err != nil {
		return fmt.Errorf("pulse/redis: release key: %w", err)
	}
	return nil
}
