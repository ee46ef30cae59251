package idempotency

import (
	"context"
	"time"

	"github.com/imsks/pulse/id"
)

// Record maps an idempotency key to the job it admitted. Records are
// created atomically at first-seen submission and never mutated.
type Record struct {
	JobID      id.JobID  `json:"jobId"`
	TenantID   string    `json:"tenantId"`
	ReservedAt time.Time `json:"reservedAt"`
}

// Store defines the deduplication contract. Implementations must back
// Reserve with an atomic set-if-absent-with-expiry primitive.
type Store interface {
	// ReserveKey atomically claims key for rec with the given TTL.
	// Returns true only if this call is the first to claim the key;
	// false means another submission already holds it.
	ReserveKey(ctx context.Context, key string, rec Record, ttl time.Duration) (bool, error)

	// LookupKey returns the record for key, or pulse.ErrIdempotencyNotFound
	// if no reservation exists (or it has expired).
	LookupKey(ctx context.Context, key string) (*Record, error)

	// ReleaseKey removes a reservation. Used as the compensating action
	// when an enqueue fails after its reservation succeeded, so the
	// caller may retry the submission.
	ReleaseKey(ctx context.Context, key string) error
}
