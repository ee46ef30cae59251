package redis

// Redis key naming conventions for pulse data.
// All keys are prefixed with "pulse:" to avoid collisions.

const keyPrefix = "pulse:"

// ── Job keys ──

// jobKey returns the key for a job entity: pulse:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// readyKey returns the Sorted Set of claimable job IDs for a queue,
// scored by priority then admission order: pulse:ready:{queue}
func readyKey(queue string) string { return keyPrefix + "ready:" + queue }

// scheduledKey returns the Sorted Set of jobs waiting on a future RunAt,
// scored by RunAt: pulse:scheduled:{queue}
func scheduledKey(queue string) string { return keyPrefix + "scheduled:" + queue }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: pulse:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Idempotency keys ──

// idemKey returns the key for an idempotency reservation: pulse:idem:{key}
func idemKey(key string) string { return keyPrefix + "idem:" + key }

// ── Rate-limit keys ──

// counterKey returns the key for a rate-limit window counter: pulse:rate:{key}
func counterKey(key string) string { return keyPrefix + "rate:" + key }
