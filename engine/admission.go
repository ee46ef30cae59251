package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/idempotency"
	"github.com/imsks/pulse/job"
)

// Submission is a job admission request: a Job minus the engine-owned
// lifecycle fields.
type Submission struct {
	// JobID is optional; if nil, the engine generates one.
	JobID          id.JobID          `json:"jobId,omitempty"`
	TenantID       string            `json:"tenantId"`
	Type           string            `json:"jobType"`
	Payload        json.RawMessage   `json:"payload"`
	Priority       job.Priority      `json:"priority,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AdmitStatus distinguishes a fresh admission from an idempotent replay.
type AdmitStatus string

const (
	// AdmitQueued means a new job was admitted to the queue.
	AdmitQueued AdmitStatus = "queued"
	// AdmitDuplicate means the idempotency key was already claimed; the
	// original job's ID is returned and no new state was created.
	AdmitDuplicate AdmitStatus = "duplicate"
)

// AdmitResult is the synchronous response to a submission.
type AdmitResult struct {
	JobID  id.JobID    `json:"jobId"`
	Status AdmitStatus `json:"status"`
}

// Submit validates and admits a job. Submissions carrying an idempotency
// key are deduplicated: for a given key, at most one job is ever admitted
// within the retention TTL, even under concurrent submission from
// multiple control-plane instances; duplicates return the original job ID.
// Submissions without a key bypass deduplication entirely.
func (e *Engine) Submit(ctx context.Context, sub Submission) (AdmitResult, error) {
	sub = sanitize(sub)
	if err := validate(sub); err != nil {
		return AdmitResult{}, err
	}

	jobID := sub.JobID
	if jobID.IsNil() {
		jobID = id.NewJobID()
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:             jobID,
		TenantID:       sub.TenantID,
		Type:           sub.Type,
		Queue:          e.cfg.QueueName,
		Payload:        sub.Payload,
		Priority:       normalizePriority(sub.Priority),
		IdempotencyKey: sub.IdempotencyKey,
		Metadata:       sub.Metadata,
		State:          job.StateQueued,
		MaxAttempts:    e.cfg.MaxAttempts,
		RunAt:          now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if sub.IdempotencyKey == "" || e.idem == nil {
		if err := e.store.EnqueueJob(ctx, j); err != nil {
			return AdmitResult{}, fmt.Errorf("engine: enqueue: %w", err)
		}
		e.hooks.EmitJobEnqueued(ctx, j)
		return AdmitResult{JobID: j.ID, Status: AdmitQueued}, nil
	}

	return e.submitIdempotent(ctx, j)
}

// submitIdempotent performs reserve-then-enqueue. Reserving first closes
// the race where two concurrent submissions with the same key both
// observe "absent": exactly one reservation wins and only the winner
// enqueues. If the enqueue then fails, the reservation is released so the
// caller can retry the submission.
func (e *Engine) submitIdempotent(ctx context.Context, j *job.Job) (AdmitResult, error) {
	// Keys are scoped per tenant so tenants cannot collide with or probe
	// each other's reservations.
	key := j.TenantID + ":" + j.IdempotencyKey
	rec := idempotency.Record{
		JobID:      j.ID,
		TenantID:   j.TenantID,
		ReservedAt: j.CreatedAt,
	}

	// A reservation can expire between a losing reserve and the
	// follow-up lookup; one retry covers that window.
	for range 2 {
		won, err := e.idem.ReserveKey(ctx, key, rec, e.cfg.IdempotencyTTL)
		if err != nil {
			return AdmitResult{}, fmt.Errorf("engine: reserve idempotency key: %w", err)
		}

		if !won {
			existing, lookupErr := e.idem.LookupKey(ctx, key)
			if lookupErr == nil {
				return AdmitResult{JobID: existing.JobID, Status: AdmitDuplicate}, nil
			}
			if errors.Is(lookupErr, pulse.ErrIdempotencyNotFound) {
				continue
			}
			return AdmitResult{}, fmt.Errorf("engine: lookup idempotency key: %w", lookupErr)
		}

		if enqErr := e.store.EnqueueJob(ctx, j); enqErr != nil {
			if relErr := e.idem.ReleaseKey(ctx, key); relErr != nil {
				e.logger.Error("failed to release idempotency key after enqueue failure",
					slog.String("idempotency_key", key),
					slog.String("job_id", j.ID.String()),
					slog.String("error", relErr.Error()),
				)
			}
			return AdmitResult{}, fmt.Errorf("engine: enqueue: %w", enqErr)
		}

		e.hooks.EmitJobEnqueued(ctx, j)
		return AdmitResult{JobID: j.ID, Status: AdmitQueued}, nil
	}

	return AdmitResult{}, fmt.Errorf("engine: idempotency key %q: reservation flapped", key)
}
