package job

import "time"

// Options configures per-job behavior such as attempt budget, queue, and
// priority.
type Options struct {
	// MaxAttempts is the number of execution attempts before the job is
	// escalated to the DLQ.
	MaxAttempts int

	// Queue is the queue name the job should be admitted to.
	Queue string

	// Priority determines claim ordering among ready jobs.
	Priority Priority

	// Timeout is the maximum duration a single attempt may run before
	// its context is cancelled. Zero means no per-attempt deadline.
	Timeout time.Duration
}

// DefaultOptions returns Options with the reference policy defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Queue:       "pulse-jobs",
		Priority:    PriorityNormal,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the claim priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
