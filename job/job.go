package job

import (
	"encoding/json"
	"time"

	"github.com/imsks/pulse/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is waiting to be claimed — ready now, or
	// waiting out a retry backoff window. Initial state on admission.
	StateQueued State = "queued"
	// StateActive means exactly one worker has claimed the job and is
	// executing it.
	StateActive State = "active"
	// StateCompleted means the job finished successfully. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the last attempt failed and the job is scheduled
	// for retry once its backoff delay elapses.
	StateFailed State = "failed"
	// StateDead means the job exhausted its attempts (or failed
	// non-retryably) and was escalated to the DLQ. Terminal.
	StateDead State = "dead"
	// StateCancelled means the job was cancelled before a worker claimed
	// it. Terminal.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further automatic transitions are possible
// from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDead || s == StateCancelled
}

// Priority orders ready jobs: high before normal before low. Within the
// same priority, jobs are claimed first-in-first-out by admission time.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the three defined priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Weight maps the priority to an ordering weight. Higher weight is
// claimed first.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return -1
	default:
		return 0
	}
}

// Job represents a unit of work to be processed by a worker.
//
// TenantID, Type, Priority, and IdempotencyKey are immutable after
// admission. Payload and Metadata pass through the engine unmodified.
type Job struct {
	ID             id.JobID          `json:"jobId"`
	TenantID       string            `json:"tenantId"`
	Type           string            `json:"jobType"`
	Queue          string            `json:"queue"`
	Payload        json.RawMessage   `json:"payload"`
	Priority       Priority          `json:"priority"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	State          State             `json:"state"`
	AttemptsMade   int               `json:"attemptsMade"`
	MaxAttempts    int               `json:"maxAttempts"`
	LastError      string            `json:"failureReason,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	WorkerID       id.WorkerID       `json:"workerId,omitempty"`

	// RunAt is when the job becomes ready: admission time initially,
	// now+backoff after a retryable failure.
	RunAt         time.Time  `json:"runAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	HeartbeatAt   *time.Time `json:"heartbeatAt,omitempty"`
}

// Ready reports whether the job may be claimed at time now.
func (j *Job) Ready(now time.Time) bool {
	if j.State != StateQueued && j.State != StateFailed {
		return false
	}
	return j.RunAt.IsZero() || !j.RunAt.After(now)
}

// CanTransition reports whether moving from the job's current state to
// next is allowed by the state machine. Transitions are monotonic: no
// path leads out of a terminal state.
func (j *Job) CanTransition(next State) bool {
	switch j.State {
	case StateQueued, StateFailed:
		return next == StateActive || next == StateCancelled
	case StateActive:
		return next == StateCompleted || next == StateFailed ||
			next == StateDead || next == StateQueued
	default:
		return false
	}
}
