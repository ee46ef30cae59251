package job

import (
	"context"
	"time"

	"github.com/imsks/pulse/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// State filters by job state. Empty means all states.
	State State
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
}

// Store defines the persistence contract for jobs. Implementations must
// back ClaimJobs with an atomic claim primitive so that exactly one caller
// may transition a given job out of the ready set, even across processes.
type Store interface {
	// EnqueueJob persists a new job in queued state and adds it to its
	// queue's priority ordering. Fails with pulse.ErrJobAlreadyExists if
	// the job ID is already present.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJobs atomically claims up to limit ready jobs from the given
	// queue, transitions them to active, increments AttemptsMade, stamps
	// LastAttemptAt, and returns them. Ready jobs are ordered by priority
	// (high before normal before low) then RunAt ascending. A job whose
	// RunAt lies in the future is not ready and must not be claimed.
	ClaimJobs(ctx context.Context, queue string, workerID id.WorkerID, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// RequeueJob returns a claimed job to the ready ordering of its queue
	// with the given RunAt. Used for retry scheduling and for releasing
	// jobs a worker could not execute.
	RequeueJob(ctx context.Context, j *Job, runAt time.Time) error

	// DeleteJob removes a job record by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// HeartbeatJob updates the heartbeat timestamp for an active job,
	// indicating the claiming worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns active jobs whose last heartbeat is older than
	// the given threshold, indicating the claiming worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// PurgeJobs evicts terminal job records in the given state, keeping at
	// most keep records and none older than the cutoff. Returns the number
	// evicted. Eviction must never touch non-terminal jobs.
	PurgeJobs(ctx context.Context, state State, keep int, cutoff time.Time) (int64, error)
}
