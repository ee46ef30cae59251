package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
)

// Release returns a claimed job to the queue without counting the claim
// as an execution attempt. Used when a worker claims a job but declines
// to execute it (local throttling, shutdown race). The job becomes ready
// again after delay.
func (e *Engine) Release(ctx context.Context, j *job.Job, delay time.Duration) error {
	if j.AttemptsMade > 0 {
		j.AttemptsMade--
	}
	j.State = job.StateQueued
	j.LastAttemptAt = nil
	j.WorkerID = id.Nil

	if err := e.store.RequeueJob(ctx, j, time.Now().UTC().Add(delay)); err != nil {
		return fmt.Errorf("engine: release: %w", err)
	}
	return nil
}

// Heartbeat records that workerID is still executing the given job.
func (e *Engine) Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	return e.store.HeartbeatJob(ctx, jobID, workerID)
}

// ReapStale recovers active jobs whose claiming worker has stopped
// heartbeating — typically a crashed or partitioned worker process. Jobs
// with attempts remaining are requeued ready immediately; jobs whose
// final attempt was in flight are escalated to the DLQ, since requeueing
// them would push AttemptsMade past the budget. Returns the number of
// jobs recovered.
func (e *Engine) ReapStale(ctx context.Context, threshold time.Duration) (int, error) {
	stale, err := e.store.ReapStaleJobs(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("engine: reap stale: %w", err)
	}

	recovered := 0
	for _, j := range stale {
		if j.AttemptsMade >= j.MaxAttempts {
			if _, escErr := e.escalate(ctx, j, fmt.Errorf("worker %s lost during final attempt", j.WorkerID)); escErr != nil {
				e.logger.Error("failed to escalate stale job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", escErr.Error()),
				)
				continue
			}
			recovered++
			continue
		}

		j.State = job.StateQueued
		j.WorkerID = id.Nil
		j.HeartbeatAt = nil
		if reqErr := e.store.RequeueJob(ctx, j, time.Now().UTC()); reqErr != nil {
			e.logger.Error("failed to requeue stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", reqErr.Error()),
			)
			continue
		}

		e.logger.Info("recovered stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempts_made", j.AttemptsMade),
		)
		recovered++
	}
	return recovered, nil
}
