package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/job"
)

// Outcome reports how the engine resolved a failed attempt.
type Outcome string

const (
	// OutcomeRequeued means the job was returned to the queue with a
	// backoff delay and will be retried.
	OutcomeRequeued Outcome = "requeued"
	// OutcomeEscalated means the job transitioned to dead and was handed
	// to the DLQ.
	OutcomeEscalated Outcome = "escalated"
)

// MarkCompleted records a successful attempt: the job transitions to
// completed and the result is stored. elapsed is the attempt duration,
// passed through to lifecycle hooks.
func (e *Engine) MarkCompleted(ctx context.Context, j *job.Job, result json.RawMessage, elapsed time.Duration) error {
	if !j.CanTransition(job.StateCompleted) {
		return fmt.Errorf("engine: complete job in state %q: %w", j.State, pulse.ErrInvalidState)
	}

	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.LastError = ""
	j.CompletedAt = &now
	j.UpdatedAt = now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("engine: mark completed: %w", err)
	}

	e.hooks.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// MarkFailed records a failed attempt and decides its fate. Retryable
// failures with attempts remaining requeue the job with an exponential
// backoff delay; non-retryable failures (pulse.Permanent, no registered
// handler) and exhausted attempt budgets escalate to the DLQ.
//
// A store error here leaves the job active; the caller must not treat
// that as a handler failure — the claim's atomicity keeps the job
// recoverable by the stale-job reaper.
func (e *Engine) MarkFailed(ctx context.Context, j *job.Job, failure error) (Outcome, error) {
	j.LastError = failure.Error()

	if pulse.IsPermanent(failure) || j.AttemptsMade >= j.MaxAttempts {
		return e.escalate(ctx, j, failure)
	}
	return e.requeue(ctx, j)
}

// requeue returns the job to the queue; it becomes ready again once the
// computed backoff delay elapses.
func (e *Engine) requeue(ctx context.Context, j *job.Job) (Outcome, error) {
	delay := e.bo.Delay(j.AttemptsMade)
	runAt := time.Now().UTC().Add(delay)

	j.State = job.StateFailed
	if err := e.store.RequeueJob(ctx, j, runAt); err != nil {
		return "", fmt.Errorf("engine: requeue: %w", err)
	}

	e.hooks.EmitJobRetrying(ctx, j, j.AttemptsMade, runAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.AttemptsMade),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)
	return OutcomeRequeued, nil
}

// escalate transitions the job to dead and hands it to the DLQ.
func (e *Engine) escalate(ctx context.Context, j *job.Job, failure error) (Outcome, error) {
	j.State = job.StateDead
	j.LastError = failure.Error()
	j.UpdatedAt = time.Now().UTC()

	if err := e.store.UpdateJob(ctx, j); err != nil {
		return "", fmt.Errorf("engine: mark dead: %w", err)
	}

	var entry *dlq.Entry
	if e.dlq != nil {
		en, dlqErr := e.dlq.Escalate(ctx, j, failure)
		if dlqErr != nil {
			// The job is already dead; losing the DLQ record would lose
			// the failure history, so surface the error.
			return "", fmt.Errorf("engine: escalate to dlq: %w", dlqErr)
		}
		entry = en
	}

	e.hooks.EmitJobDead(ctx, j, entry, failure)

	e.logger.Warn("job moved to DLQ",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempts_made", j.AttemptsMade),
		slog.String("error", failure.Error()),
	)
	return OutcomeEscalated, nil
}
