package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/imsks/pulse"
)

// CounterStore is the shared atomic counter primitive the limiter is
// built on. Implementations must make IncrCounter atomic across
// concurrent callers and processes.
type CounterStore interface {
	// IncrCounter atomically increments the counter for key and returns
	// the new count plus the time left until the counter expires. On the
	// first increment in a window the implementation attaches an expiry
	// equal to the window length; the expiry-set must be idempotent so
	// the benign race where two callers both observe "first increment"
	// costs nothing.
	IncrCounter(ctx context.Context, key string, window time.Duration) (count int64, expiresIn time.Duration, err error)

	// PeekCounter returns the current count and remaining lifetime
	// without consuming a slot. A counter that does not exist returns
	// (0, 0, nil).
	PeekCounter(ctx context.Context, key string) (count int64, expiresIn time.Duration, err error)
}

// Result is the outcome of a rate-limit check.
type Result struct {
	// Allowed reports whether the request is within the window budget.
	Allowed bool `json:"allowed"`
	// Remaining is the number of requests left in the window, clamped
	// at zero.
	Remaining int64 `json:"remaining"`
	// ResetAt is when the window's counter expires, derived from the
	// counter's actual expiry rather than recomputed from "now".
	ResetAt time.Time `json:"resetAt"`
	// RetryAfter is a positive scheduling hint when denied, zero
	// otherwise. The limiter itself never delays the caller.
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

// FailurePolicy dictates the limiter's behavior when the counter store is
// unreachable.
type FailurePolicy int

const (
	// FailClosed denies requests when the store is unreachable. This is
	// the default: admission already surfaces store outages as 5xx, and
	// failing open would void the rate bound exactly when the backend is
	// least able to absorb load.
	FailClosed FailurePolicy = iota
	// FailOpen allows requests when the store is unreachable, trading
	// the rate bound for availability.
	FailOpen
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithFailurePolicy sets the unreachable-store policy.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(l *Limiter) { l.policy = p }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// Limiter bounds request rates per identifier using a fixed-window
// counter in the shared store. Safe for concurrent use.
type Limiter struct {
	store  CounterStore
	policy FailurePolicy
	logger *slog.Logger
}

// New creates a Limiter over the given counter store.
func New(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		policy: FailClosed,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// counterKey names the fixed-window counter for an identifier. Including
// the window length keeps counters for different windows independent.
func counterKey(identifier string, window time.Duration) string {
	return fmt.Sprintf("%s:%d", identifier, window.Milliseconds())
}

// Check consumes one slot for identifier in the current window and
// reports whether the request is allowed. At most maxRequests checks
// succeed per (identifier, window); the next is denied with a positive
// RetryAfter derived from the window's remaining time.
func (l *Limiter) Check(ctx context.Context, identifier string, maxRequests int, window time.Duration) (Result, error) {
	count, expiresIn, err := l.store.IncrCounter(ctx, counterKey(identifier, window), window)
	if err != nil {
		return l.storeFailure(identifier, maxRequests, window, err)
	}
	return l.evaluate(count, int64(maxRequests), window, expiresIn, true), nil
}

// Status reports the window state for identifier without consuming a
// slot.
func (l *Limiter) Status(ctx context.Context, identifier string, maxRequests int, window time.Duration) (Result, error) {
	count, expiresIn, err := l.store.PeekCounter(ctx, counterKey(identifier, window))
	if err != nil {
		return l.storeFailure(identifier, maxRequests, window, err)
	}
	if count == 0 {
		// No counter yet: a full window is available.
		return Result{
			Allowed:   true,
			Remaining: int64(maxRequests),
			ResetAt:   time.Now().Add(window),
		}, nil
	}
	return l.evaluate(count, int64(maxRequests), window, expiresIn, false), nil
}

func (l *Limiter) evaluate(count, maxRequests int64, window, expiresIn time.Duration, consumed bool) Result {
	if expiresIn <= 0 {
		// Expiry not yet visible (first increment in flight); the true
		// expiry can be at most one full window away.
		expiresIn = window
	}

	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   count <= maxRequests,
		Remaining: remaining,
		ResetAt:   time.Now().Add(expiresIn),
	}
	if consumed && !res.Allowed {
		res.RetryAfter = expiresIn
	}
	return res
}

// storeFailure applies the configured FailurePolicy when the counter
// store is unreachable.
func (l *Limiter) storeFailure(identifier string, maxRequests int, window time.Duration, err error) (Result, error) {
	if l.policy == FailOpen {
		l.logger.Warn("rate limiter store unreachable, failing open",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return Result{
			Allowed:   true,
			Remaining: int64(maxRequests),
			ResetAt:   time.Now().Add(window),
		}, nil
	}
	return Result{}, fmt.Errorf("ratelimit: check %q: %w: %w", identifier, pulse.ErrStoreUnavailable, err)
}
