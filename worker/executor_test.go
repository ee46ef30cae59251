package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/imsks/pulse"
	pulsedlq "github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/engine"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/middleware"
	"github.com/imsks/pulse/store/memory"
	"github.com/imsks/pulse/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *memory.Store
	eng      *engine.Engine
	registry *job.Registry
	exec     *worker.Executor
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()

	s := memory.New()
	logger := discardLogger()
	base := []engine.Option{
		engine.WithDLQ(pulsedlq.NewService(s, s)),
		engine.WithLogger(logger),
	}
	eng := engine.New(s, append(base, opts...)...)
	registry := job.NewRegistry()
	exec := worker.NewExecutor(registry, eng, logger, middleware.Recover(logger))
	return &fixture{store: s, eng: eng, registry: registry, exec: exec}
}

func (f *fixture) submitAndClaim(t *testing.T, jobType string) *job.Job {
	t.Helper()

	ctx := context.Background()
	if _, err := f.eng.Submit(ctx, engine.Submission{
		TenantID: "acme",
		Type:     jobType,
		Payload:  json.RawMessage(`{"n":7}`),
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := f.eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}
	return jobs[0]
}

func TestExecute_SuccessStoresResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	type payload struct {
		N int `json:"n"`
	}
	def := job.NewDefinition("DOUBLE", func(_ context.Context, p payload) (any, error) {
		return map[string]int{"doubled": p.N * 2}, nil
	})
	if err := job.RegisterDefinition(f.registry, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	j := f.submitAndClaim(t, "DOUBLE")
	if err := f.exec.Execute(ctx, j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	status, err := f.eng.GetStatus(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", status.State)
	}
	if string(status.Result) != `{"doubled":14}` {
		t.Errorf("Result = %s, want {\"doubled\":14}", status.Result)
	}
}

func TestExecute_HandlerErrorSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := job.NewDefinition("FLAKY", func(_ context.Context, _ struct{}) (any, error) {
		return nil, errors.New("upstream 503")
	})
	if err := job.RegisterDefinition(f.registry, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	j := f.submitAndClaim(t, "FLAKY")
	if err := f.exec.Execute(ctx, j); err == nil {
		t.Fatal("Execute returned nil for a failed attempt")
	}

	status, err := f.eng.GetStatus(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != job.StateFailed {
		t.Errorf("State = %q, want failed (awaiting retry)", status.State)
	}
	if status.AttemptsMade != 1 {
		t.Errorf("AttemptsMade = %d, want 1", status.AttemptsMade)
	}
	if status.FailureReason != "upstream 503" {
		t.Errorf("FailureReason = %q, want upstream 503", status.FailureReason)
	}
}

func TestExecute_NoHandlerDeadLettersImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.submitAndClaim(t, "UNKNOWN")
	err := f.exec.Execute(ctx, j)
	if !errors.Is(err, pulse.ErrNoHandler) {
		t.Fatalf("Execute error = %v, want ErrNoHandler", err)
	}

	status, getErr := f.eng.GetStatus(ctx, j.ID)
	if getErr != nil {
		t.Fatalf("GetStatus: %v", getErr)
	}
	if status.State != job.StateDead {
		t.Errorf("State = %q, want dead without retries", status.State)
	}
	if status.AttemptsMade != 1 {
		t.Errorf("AttemptsMade = %d, want 1", status.AttemptsMade)
	}

	entries, listErr := f.store.ListDLQ(ctx, pulsedlq.ListOpts{Limit: 10})
	if listErr != nil {
		t.Fatalf("ListDLQ: %v", listErr)
	}
	if len(entries) != 1 {
		t.Fatalf("DLQ entries = %d, want 1", len(entries))
	}
}

func TestExecute_PanicIsRecoveredAndRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := job.NewDefinition("PANICS", func(_ context.Context, _ struct{}) (any, error) {
		panic("nil map write")
	})
	if err := job.RegisterDefinition(f.registry, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	j := f.submitAndClaim(t, "PANICS")
	if err := f.exec.Execute(ctx, j); err == nil {
		t.Fatal("Execute returned nil for a panicking handler")
	}

	status, err := f.eng.GetStatus(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != job.StateFailed {
		t.Errorf("State = %q, want failed (panic treated as retryable)", status.State)
	}
}

func TestExecute_TimeoutMiddlewareCancelsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := job.NewDefinition("SLOW",
		func(hctx context.Context, _ struct{}) (any, error) {
			select {
			case <-hctx.Done():
				return nil, hctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		},
		job.WithTimeout(20*time.Millisecond),
	)
	if err := job.RegisterDefinition(f.registry, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	perType := func(jobType string) time.Duration {
		opts, ok := f.registry.Opts(jobType)
		if !ok {
			return 0
		}
		return opts.Timeout
	}
	execWithTimeout := worker.NewExecutor(f.registry, f.eng, discardLogger(),
		middleware.Timeout(time.Minute, perType))

	j := f.submitAndClaim(t, "SLOW")
	start := time.Now()
	if err := execWithTimeout.Execute(ctx, j); err == nil {
		t.Fatal("Execute returned nil for a timed-out attempt")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("attempt took %v, want cancellation around 20ms", elapsed)
	}

	status, err := f.eng.GetStatus(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != job.StateFailed {
		t.Errorf("State = %q, want failed", status.State)
	}
}
