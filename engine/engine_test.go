package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/backoff"
	pulsedlq "github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/engine"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/store/memory"
)

// newEngine builds an engine over a fresh memory store with dedup and
// DLQ wired, applying any extra options last.
func newEngine(opts ...engine.Option) (*engine.Engine, *memory.Store) {
	s := memory.New()
	base := []engine.Option{
		engine.WithIdempotency(s),
		engine.WithDLQ(pulsedlq.NewService(s, s)),
	}
	return engine.New(s, append(base, opts...)...), s
}

func submission(tenant, jobType string) engine.Submission {
	return engine.Submission{
		TenantID: tenant,
		Type:     jobType,
		Payload:  json.RawMessage(`{"n":1}`),
	}
}

// ──────────────────────────────────────────────────
// Admission
// ──────────────────────────────────────────────────

func TestSubmit_Validation(t *testing.T) {
	eng, _ := newEngine()
	ctx := context.Background()

	tests := []struct {
		name string
		sub  engine.Submission
	}{
		{"missing tenant", engine.Submission{Type: "A", Payload: json.RawMessage(`{}`)}},
		{"bad tenant charset", engine.Submission{TenantID: "ac me!", Type: "A", Payload: json.RawMessage(`{}`)}},
		{"missing type", engine.Submission{TenantID: "acme", Payload: json.RawMessage(`{}`)}},
		{"missing payload", engine.Submission{TenantID: "acme", Type: "A"}},
		{"bad priority", engine.Submission{TenantID: "acme", Type: "A", Payload: json.RawMessage(`{}`), Priority: "urgent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Submit(ctx, tt.sub)
			if !errors.Is(err, pulse.ErrInvalidJob) {
				t.Fatalf("error = %v, want ErrInvalidJob", err)
			}
		})
	}
}

func TestSubmit_TrimsAndDefaults(t *testing.T) {
	eng, s := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, engine.Submission{
		TenantID: "  acme  ",
		Type:     " SEND_EMAIL ",
		Payload:  json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != engine.AdmitQueued {
		t.Errorf("Status = %q, want queued", res.Status)
	}

	j, err := s.GetJob(ctx, res.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.TenantID != "acme" {
		t.Errorf("TenantID = %q, want trimmed %q", j.TenantID, "acme")
	}
	if j.Type != "SEND_EMAIL" {
		t.Errorf("Type = %q, want trimmed %q", j.Type, "SEND_EMAIL")
	}
	if j.Priority != job.PriorityNormal {
		t.Errorf("Priority = %q, want default normal", j.Priority)
	}
	if j.State != job.StateQueued {
		t.Errorf("State = %q, want queued", j.State)
	}
	if j.AttemptsMade != 0 {
		t.Errorf("AttemptsMade = %d, want 0", j.AttemptsMade)
	}
}

func TestSubmit_IdempotencyKeyDeduplicates(t *testing.T) {
	eng, s := newEngine()
	ctx := context.Background()

	sub := submission("acme", "SEND_EMAIL")
	sub.IdempotencyKey = "order-42"

	first, err := eng.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if first.Status != engine.AdmitQueued {
		t.Fatalf("first Status = %q, want queued", first.Status)
	}

	second, err := eng.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Status != engine.AdmitDuplicate {
		t.Errorf("second Status = %q, want duplicate", second.Status)
	}
	if second.JobID != first.JobID {
		t.Errorf("duplicate JobID = %v, want original %v", second.JobID, first.JobID)
	}

	count, err := s.CountJobs(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 1 {
		t.Errorf("job count = %d, want exactly 1 admission", count)
	}
}

func TestSubmit_DistinctKeysAdmitSeparately(t *testing.T) {
	eng, _ := newEngine()
	ctx := context.Background()

	a := submission("acme", "A")
	a.IdempotencyKey = "key-a"
	b := submission("acme", "A")
	b.IdempotencyKey = "key-b"

	ra, err := eng.Submit(ctx, a)
	if err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	rb, err := eng.Submit(ctx, b)
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}
	if ra.JobID == rb.JobID {
		t.Error("distinct keys returned the same job")
	}
	if rb.Status != engine.AdmitQueued {
		t.Errorf("Status = %q, want queued", rb.Status)
	}
}

func TestSubmit_ConcurrentSameKeyAdmitsOnce(t *testing.T) {
	eng, s := newEngine()
	ctx := context.Background()

	sub := submission("acme", "SEND_EMAIL")
	sub.IdempotencyKey = "order-7"

	const n = 16
	results := make([]engine.AdmitResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = eng.Submit(ctx, sub)
		}(i)
	}
	wg.Wait()

	var queued int
	var winner id.JobID
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Submit %d: %v", i, errs[i])
		}
		if results[i].Status == engine.AdmitQueued {
			queued++
			winner = results[i].JobID
		}
	}
	if queued != 1 {
		t.Fatalf("queued admissions = %d, want exactly 1", queued)
	}
	for i := 0; i < n; i++ {
		if results[i].JobID != winner {
			t.Errorf("result %d JobID = %v, want %v", i, results[i].JobID, winner)
		}
	}

	count, err := s.CountJobs(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 1 {
		t.Errorf("job count = %d, want exactly 1 admission", count)
	}
}

// ──────────────────────────────────────────────────
// Claiming
// ──────────────────────────────────────────────────

func TestClaim_CountsAttemptAndActivates(t *testing.T) {
	eng, _ := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	workerID := id.NewWorkerID()
	jobs, err := eng.Claim(ctx, workerID, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(jobs))
	}

	j := jobs[0]
	if j.ID != res.JobID {
		t.Errorf("claimed %v, want %v", j.ID, res.JobID)
	}
	if j.State != job.StateActive {
		t.Errorf("State = %q, want active", j.State)
	}
	if j.AttemptsMade != 1 {
		t.Errorf("AttemptsMade = %d, want 1", j.AttemptsMade)
	}
	if j.WorkerID != workerID {
		t.Errorf("WorkerID = %v, want %v", j.WorkerID, workerID)
	}
	if j.LastAttemptAt == nil {
		t.Error("LastAttemptAt not stamped")
	}

	// The claim is exclusive.
	again, err := eng.Claim(ctx, id.NewWorkerID(), 10)
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second claim got %d jobs, want 0", len(again))
	}
}

func TestClaim_PriorityOrder(t *testing.T) {
	eng, _ := newEngine()
	ctx := context.Background()

	for _, p := range []job.Priority{job.PriorityLow, job.PriorityNormal, job.PriorityHigh} {
		sub := submission("acme", "A")
		sub.Priority = p
		if _, err := eng.Submit(ctx, sub); err != nil {
			t.Fatalf("Submit %s: %v", p, err)
		}
	}

	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 3)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("claimed %d jobs, want 3", len(jobs))
	}

	want := []job.Priority{job.PriorityHigh, job.PriorityNormal, job.PriorityLow}
	for i, p := range want {
		if jobs[i].Priority != p {
			t.Errorf("claim[%d].Priority = %q, want %q", i, jobs[i].Priority, p)
		}
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestMarkCompleted_StoresResult(t *testing.T) {
	eng, _ := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}

	result := json.RawMessage(`{"ok":true}`)
	if err := eng.MarkCompleted(ctx, jobs[0], result, 10*time.Millisecond); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	status, err := eng.GetStatus(ctx, res.JobID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", status.State)
	}
	if string(status.Result) != `{"ok":true}` {
		t.Errorf("Result = %s, want {\"ok\":true}", status.Result)
	}
	if status.FailureReason != "" {
		t.Errorf("FailureReason = %q, want empty", status.FailureReason)
	}
}

func TestMarkFailed_RequeuesWithBackoffDelay(t *testing.T) {
	eng, s := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}

	before := time.Now().UTC()
	outcome, err := eng.MarkFailed(ctx, jobs[0], errors.New("transient"))
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if outcome != engine.OutcomeRequeued {
		t.Fatalf("outcome = %q, want requeued", outcome)
	}

	j, err := s.GetJob(ctx, res.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.State != job.StateFailed {
		t.Errorf("State = %q, want failed (awaiting retry)", j.State)
	}
	if j.LastError != "transient" {
		t.Errorf("LastError = %q, want %q", j.LastError, "transient")
	}

	// First retry delay is the backoff base: about 1s out.
	delay := j.RunAt.Sub(before)
	if delay < 500*time.Millisecond || delay > 2*time.Second {
		t.Errorf("retry delay = %v, want about 1s", delay)
	}

	// Not ready until the delay elapses.
	again, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil {
		t.Fatalf("Claim during backoff: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("claimed %d jobs during backoff, want 0", len(again))
	}
}

func TestMarkFailed_SecondRetryDoublesDelay(t *testing.T) {
	eng, s := newEngine(engine.WithBackoff(backoff.NewExponential(time.Second, 30*time.Second)))
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}
	if _, err := eng.MarkFailed(ctx, jobs[0], errors.New("transient")); err != nil {
		t.Fatalf("first MarkFailed: %v", err)
	}

	// Make the retry ready now and run attempt two.
	j, _ := s.GetJob(ctx, res.JobID)
	if err := s.RequeueJob(ctx, j, time.Now().UTC().Add(-time.Millisecond)); err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	jobs, err = eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("second Claim: jobs=%d err=%v", len(jobs), err)
	}
	if jobs[0].AttemptsMade != 2 {
		t.Fatalf("AttemptsMade = %d, want 2", jobs[0].AttemptsMade)
	}

	before := time.Now().UTC()
	if _, err := eng.MarkFailed(ctx, jobs[0], errors.New("transient")); err != nil {
		t.Fatalf("second MarkFailed: %v", err)
	}

	j, _ = s.GetJob(ctx, res.JobID)
	delay := j.RunAt.Sub(before)
	if delay < 1500*time.Millisecond || delay > 3*time.Second {
		t.Errorf("second retry delay = %v, want about 2s", delay)
	}
}

func TestMarkFailed_ExhaustedAttemptsEscalate(t *testing.T) {
	cfg := pulse.DefaultConfig()
	cfg.MaxAttempts = 1
	eng, s := newEngine(engine.WithConfig(cfg))
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}

	outcome, err := eng.MarkFailed(ctx, jobs[0], errors.New("boom"))
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if outcome != engine.OutcomeEscalated {
		t.Fatalf("outcome = %q, want escalated", outcome)
	}

	j, err := s.GetJob(ctx, res.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.State != job.StateDead {
		t.Errorf("State = %q, want dead", j.State)
	}

	entries, err := s.ListDLQ(ctx, pulsedlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("DLQ entries = %d, want 1", len(entries))
	}
	if entries[0].JobID != res.JobID {
		t.Errorf("DLQ entry JobID = %v, want %v", entries[0].JobID, res.JobID)
	}
	if entries[0].FailureReason != "boom" {
		t.Errorf("FailureReason = %q, want boom", entries[0].FailureReason)
	}
}

func TestMarkFailed_PermanentErrorSkipsRetries(t *testing.T) {
	eng, s := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}

	outcome, err := eng.MarkFailed(ctx, jobs[0], pulse.Permanent(errors.New("bad payload shape")))
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if outcome != engine.OutcomeEscalated {
		t.Fatalf("outcome = %q, want escalated on first attempt", outcome)
	}

	j, _ := s.GetJob(ctx, res.JobID)
	if j.AttemptsMade != 1 {
		t.Errorf("AttemptsMade = %d, want 1 (no retries burned)", j.AttemptsMade)
	}
}

// ──────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────

func TestCancel(t *testing.T) {
	eng, s := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Cancel(ctx, res.JobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	j, _ := s.GetJob(ctx, res.JobID)
	if j.State != job.StateCancelled {
		t.Errorf("State = %q, want cancelled", j.State)
	}

	// Cancelling again is invalid: the state is terminal.
	if err := eng.Cancel(ctx, res.JobID); !errors.Is(err, pulse.ErrInvalidState) {
		t.Errorf("second Cancel error = %v, want ErrInvalidState", err)
	}
}

func TestCancel_ActiveJobRejected(t *testing.T) {
	eng, _ := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := eng.Claim(ctx, id.NewWorkerID(), 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := eng.Cancel(ctx, res.JobID); !errors.Is(err, pulse.ErrInvalidState) {
		t.Errorf("Cancel active error = %v, want ErrInvalidState", err)
	}
}

// ──────────────────────────────────────────────────
// Recovery
// ──────────────────────────────────────────────────

func TestRelease_DoesNotBurnAttempt(t *testing.T) {
	eng, s := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}

	if err := eng.Release(ctx, jobs[0], 0); err != nil {
		t.Fatalf("Release: %v", err)
	}

	j, _ := s.GetJob(ctx, res.JobID)
	if j.State != job.StateQueued {
		t.Errorf("State = %q, want queued", j.State)
	}
	if j.AttemptsMade != 0 {
		t.Errorf("AttemptsMade = %d, want 0 after release", j.AttemptsMade)
	}

	// Claimable again, still counting from attempt one.
	jobs, err = eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("re-Claim: jobs=%d err=%v", len(jobs), err)
	}
	if jobs[0].AttemptsMade != 1 {
		t.Errorf("AttemptsMade after reclaim = %d, want 1", jobs[0].AttemptsMade)
	}
}

func TestReapStale_RequeuesAbandonedJob(t *testing.T) {
	eng, s := newEngine()
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}

	// Simulate a worker that died two minutes ago.
	stale := jobs[0]
	old := time.Now().UTC().Add(-2 * time.Minute)
	stale.HeartbeatAt = &old
	if err := s.UpdateJob(ctx, stale); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	recovered, err := eng.ReapStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}

	j, _ := s.GetJob(ctx, res.JobID)
	if j.State != job.StateQueued {
		t.Errorf("State = %q, want queued", j.State)
	}
}

func TestReapStale_FinalAttemptEscalates(t *testing.T) {
	cfg := pulse.DefaultConfig()
	cfg.MaxAttempts = 1
	eng, s := newEngine(engine.WithConfig(cfg))
	ctx := context.Background()

	res, err := eng.Submit(ctx, submission("acme", "A"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
	}

	stale := jobs[0]
	old := time.Now().UTC().Add(-2 * time.Minute)
	stale.HeartbeatAt = &old
	if err := s.UpdateJob(ctx, stale); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if _, err := eng.ReapStale(ctx, time.Minute); err != nil {
		t.Fatalf("ReapStale: %v", err)
	}

	j, _ := s.GetJob(ctx, res.JobID)
	if j.State != job.StateDead {
		t.Errorf("State = %q, want dead (no attempts left)", j.State)
	}
	entries, err := s.ListDLQ(ctx, pulsedlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("DLQ entries = %d, want 1", len(entries))
	}
}

// ──────────────────────────────────────────────────
// Retention
// ──────────────────────────────────────────────────

func TestSweep_EvictsBeyondCount(t *testing.T) {
	cfg := pulse.DefaultConfig()
	cfg.CompletedRetention = pulse.Retention{MaxCount: 2, MaxAge: 24 * time.Hour}
	eng, s := newEngine(engine.WithConfig(cfg))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := eng.Submit(ctx, submission("acme", "A"))
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		jobs, err := eng.Claim(ctx, id.NewWorkerID(), 1)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("Claim: jobs=%d err=%v", len(jobs), err)
		}
		if err := eng.MarkCompleted(ctx, jobs[0], nil, time.Millisecond); err != nil {
			t.Fatalf("MarkCompleted %v: %v", res.JobID, err)
		}
	}

	evicted, err := eng.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if evicted != 3 {
		t.Errorf("evicted = %d, want 3", evicted)
	}

	count, err := s.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 2 {
		t.Errorf("completed remaining = %d, want 2", count)
	}
}
