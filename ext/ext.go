// Package ext defines the lifecycle hook system for Pulse. Hooks are
// notified of job lifecycle events (admitted, started, completed,
// retrying, dead-lettered) and can react to them — logging, metrics,
// alerting.
//
// Hooks run synchronously as a post-processing step of the emitting
// operation, not on a separate event bus. Each lifecycle hook is a
// separate interface so extensions opt in only to the events they care
// about.
package ext

import (
	"context"
	"time"

	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is successfully admitted to the queue.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a claimed job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails with attempts remaining and is
// scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDead is called when a job fails terminally and is escalated to the
// dead letter queue.
type JobDead interface {
	OnJobDead(ctx context.Context, j *job.Job, entry *dlq.Entry, err error) error
}

// Shutdown is called when the process is draining.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
