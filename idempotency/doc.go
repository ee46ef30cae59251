// Package idempotency implements the distributed deduplication store for
// job admission.
//
// A caller-supplied idempotency key maps to exactly one admitted job ID
// for the duration of a fixed retention TTL. Reservation is an atomic
// set-if-absent in the shared store, so at most one of any number of
// concurrent submissions bearing the same key wins — across control-plane
// instances, not just goroutines.
package idempotency
