package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/backoff"
	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/ext"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/idempotency"
	"github.com/imsks/pulse/job"
)

// Engine coordinates the job lifecycle over a shared store. It is safe
// for concurrent use and stateless: every instance sharing a store sees
// the same queue.
type Engine struct {
	store job.Store
	idem  idempotency.Store
	dlq   *dlq.Service
	hooks *ext.Registry
	bo    backoff.Strategy
	cfg   pulse.Config

	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine's policy configuration.
func WithConfig(cfg pulse.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithIdempotency sets the deduplication store. Without one, every
// submission is treated as distinct regardless of idempotency key.
func WithIdempotency(s idempotency.Store) Option {
	return func(e *Engine) { e.idem = s }
}

// WithDLQ sets the dead letter service used for escalation.
func WithDLQ(s *dlq.Service) Option {
	return func(e *Engine) { e.dlq = s }
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithHooks sets the lifecycle extension registry.
func WithHooks(r *ext.Registry) Option {
	return func(e *Engine) { e.hooks = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over the given job store.
func New(store job.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		bo:     backoff.DefaultStrategy(),
		cfg:    pulse.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hooks == nil {
		e.hooks = ext.NewRegistry(e.logger)
	}
	return e
}

// Hooks returns the engine's extension registry.
func (e *Engine) Hooks() *ext.Registry { return e.hooks }

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() pulse.Config { return e.cfg }

// Store returns the engine's job store.
func (e *Engine) Store() job.Store { return e.store }

// Claim atomically claims up to limit ready jobs for workerID. Claimed
// jobs are active: no other worker can claim them, and their attempt
// counter has already been incremented for this attempt.
func (e *Engine) Claim(ctx context.Context, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	jobs, err := e.store.ClaimJobs(ctx, e.cfg.QueueName, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("engine: claim: %w", err)
	}
	return jobs, nil
}

// Status describes a job's observable state.
type Status struct {
	JobID         id.JobID        `json:"jobId"`
	State         job.State       `json:"state"`
	AttemptsMade  int             `json:"attemptsMade"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
}

// GetStatus returns the observable status of a job, or
// pulse.ErrJobNotFound.
func (e *Engine) GetStatus(ctx context.Context, jobID id.JobID) (*Status, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Status{
		JobID:         j.ID,
		State:         j.State,
		AttemptsMade:  j.AttemptsMade,
		Result:        j.Result,
		FailureReason: j.LastError,
	}, nil
}

// Cancel cancels a job that no worker has claimed yet. Active and
// terminal jobs cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.CanTransition(job.StateCancelled) {
		return fmt.Errorf("engine: cancel job in state %q: %w", j.State, pulse.ErrInvalidState)
	}
	j.State = job.StateCancelled
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("engine: cancel: %w", err)
	}
	return nil
}
