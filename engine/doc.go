// Package engine implements the job lifecycle engine: admission
// (validation, idempotency deduplication, durable enqueue), the claim
// path workers pull from, the retry/backoff decision on failure, dead
// letter escalation, and retention housekeeping.
//
// The engine owns all retry policy. Workers report success or failure and
// the engine decides requeue-with-backoff versus DLQ escalation. All
// state lives in the shared store; the engine itself is stateless and any
// number of control-plane and worker processes may share one store.
package engine
