// Package dlq implements the dead letter queue: the terminal store for
// jobs that exhausted their retry budget or failed non-retryably.
//
// Entries are created only by escalation from the queue engine and
// destroyed only by explicit operator action (replay or purge). Replay
// re-admits the original payload as a fresh job with a zeroed attempt
// counter; the new job's metadata references the originating entry so the
// failure history is never silently lost.
package dlq
