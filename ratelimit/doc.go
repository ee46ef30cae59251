// Package ratelimit implements distributed fixed-window rate limiting
// over a shared atomic counter with expiry.
//
// A counter exists per (identifier, window) pair and self-clears when the
// window ends. The limiter is identifier-agnostic: choosing what to key
// on (tenant ID, client IP, "anonymous") is the caller's policy. Denial
// is immediate — the limiter never delays or queues a denied request; it
// returns a retry-after hint and the caller retries later.
package ratelimit
