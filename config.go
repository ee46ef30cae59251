package pulse

import "time"

// Config holds the shared policy knobs for the queue engine, admission
// path, and worker pool. Components copy the pieces they need at
// construction time; changing a Config after wiring has no effect.
type Config struct {
	// QueueName is the durable queue jobs are admitted to.
	QueueName string

	// MaxAttempts is the number of execution attempts before a job
	// transitions to dead and is escalated to the DLQ.
	MaxAttempts int

	// BackoffBase is the base delay for exponential retry backoff:
	// delay = BackoffBase * 2^(attemptsMade-1).
	BackoffBase time.Duration

	// BackoffCap bounds the computed retry delay.
	BackoffCap time.Duration

	// Concurrency is the maximum number of jobs a worker process
	// executes simultaneously.
	Concurrency int

	// PollInterval is how often idle workers poll for ready jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for active jobs to
	// finish during graceful shutdown.
	ShutdownTimeout time.Duration

	// RateLimitMax is the number of admissions allowed per identifier
	// per rate-limit window.
	RateLimitMax int

	// RateLimitWindow is the fixed rate-limit window length.
	RateLimitWindow time.Duration

	// IdempotencyTTL is the retention window for idempotency records.
	IdempotencyTTL time.Duration

	// CompletedRetention bounds how long and how many completed job
	// records are kept for observability.
	CompletedRetention Retention

	// DeadRetention bounds retention of failed/dead job records, kept
	// longer to support debugging.
	DeadRetention Retention
}

// Retention bounds the count and age of terminal job records. Eviction is
// background housekeeping; it never affects in-flight processing.
type Retention struct {
	MaxCount int
	MaxAge   time.Duration
}

// DefaultConfig returns a Config with the reference policy defaults.
func DefaultConfig() Config {
	return Config{
		QueueName:          "pulse-jobs",
		MaxAttempts:        3,
		BackoffBase:        1 * time.Second,
		BackoffCap:         30 * time.Second,
		Concurrency:        5,
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		RateLimitMax:       100,
		RateLimitWindow:    60 * time.Second,
		IdempotencyTTL:     24 * time.Hour,
		CompletedRetention: Retention{MaxCount: 100, MaxAge: 24 * time.Hour},
		DeadRetention:      Retention{MaxCount: 1000, MaxAge: 7 * 24 * time.Hour},
	}
}
