// Package worker implements the data plane: an Executor that invokes
// registered handlers through middleware, and a Pool that runs a bounded
// number of concurrent claim-and-execute loops.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/engine"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/middleware"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then reports the outcome to the queue engine. It
// holds no retry policy of its own: the engine decides requeue versus
// escalation.
type Executor struct {
	registry *job.Registry
	eng      *engine.Engine
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	eng *engine.Engine,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		eng:      eng,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a claimed job.
// No registered handler: the job fails non-retryably and escalates to
// the DLQ immediately, without burning further attempts.
// Handler success: the job is marked completed with its result.
// Handler failure: the engine decides retry with backoff or escalation.
//
// A store failure while recording the outcome is returned without
// marking the job failed: the job stays active and the stale-job reaper
// recovers it, so a blip in the shared store never misattributes failure
// to the handler.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		noHandler := fmt.Errorf("%w: %q", pulse.ErrNoHandler, j.Type)
		if _, err := e.eng.MarkFailed(ctx, j, noHandler); err != nil {
			return err
		}
		return noHandler
	}

	var result json.RawMessage
	terminal := func(ctx context.Context) error {
		res, err := handler(ctx, j.Payload)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	start := time.Now()
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		outcome, markErr := e.eng.MarkFailed(ctx, j, err)
		if markErr != nil {
			e.logger.Error("failed to record job failure, leaving job recoverable",
				slog.String("job_id", j.ID.String()),
				slog.String("error", markErr.Error()),
			)
			return markErr
		}
		return fmt.Errorf("job %s attempt %d/%d (%s): %w",
			j.Type, j.AttemptsMade, j.MaxAttempts, outcome, err)
	}

	if markErr := e.eng.MarkCompleted(ctx, j, result, elapsed); markErr != nil {
		// Completion not recorded; the reaper will re-deliver. Handlers
		// are idempotent by contract, so the duplicate attempt is safe.
		e.logger.Error("failed to record job completion",
			slog.String("job_id", j.ID.String()),
			slog.String("error", markErr.Error()),
		)
		return markErr
	}
	return nil
}

// timeoutFor resolves per-type attempt deadlines from the registry, for
// use with middleware.Timeout.
func (e *Executor) timeoutFor(jobType string) time.Duration {
	opts, ok := e.registry.Opts(jobType)
	if !ok {
		return 0
	}
	return opts.Timeout
}

// TimeoutMiddleware returns a middleware.Timeout wired to the executor's
// registry, so each job type's registered deadline applies to its
// attempts. def is the fallback for types without one.
func (e *Executor) TimeoutMiddleware(def time.Duration) middleware.Middleware {
	return middleware.Timeout(def, e.timeoutFor)
}

// IsNoHandler reports whether err stems from a missing handler
// registration.
func IsNoHandler(err error) bool {
	return errors.Is(err, pulse.ErrNoHandler)
}
