package redis_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
	redisstore "github.com/imsks/pulse/store/redis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) (*redisstore.Store, *goredis.Client) {
	t.Helper()

	mini := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client, redisstore.WithLogger(discardLogger())), client
}

func newJob(queue string, priority job.Priority, runAt time.Time) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:          id.NewJobID(),
		TenantID:    "acme",
		Type:        "TEST_JOB",
		Queue:       queue,
		Payload:     []byte(`{"k":"v"}`),
		Priority:    priority,
		State:       job.StateQueued,
		MaxAttempts: 3,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestClaimJobs_PriorityOrderAndActivation(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	low := newJob("q", job.PriorityLow, past)
	high := newJob("q", job.PriorityHigh, past.Add(time.Second))
	for _, j := range []*job.Job{low, high} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	wid := id.NewWorkerID()
	first, err := s.ClaimJobs(ctx, "q", wid, 1)
	if err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if len(first) != 1 || first[0].ID != high.ID {
		t.Fatalf("first claim = %v, want high-priority job %s", first, high.ID)
	}
	if first[0].State != job.StateActive {
		t.Errorf("State = %q, want active", first[0].State)
	}
	if first[0].AttemptsMade != 1 {
		t.Errorf("AttemptsMade = %d, want 1", first[0].AttemptsMade)
	}
	if first[0].WorkerID != wid {
		t.Errorf("WorkerID = %v, want %v", first[0].WorkerID, wid)
	}

	second, err := s.ClaimJobs(ctx, "q", wid, 1)
	if err != nil {
		t.Fatalf("second ClaimJobs: %v", err)
	}
	if len(second) != 1 || second[0].ID != low.ID {
		t.Fatalf("second claim = %v, want low-priority job %s", second, low.ID)
	}

	empty, err := s.ClaimJobs(ctx, "q", wid, 1)
	if err != nil {
		t.Fatalf("third ClaimJobs: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("third claim got %d jobs, want 0", len(empty))
	}
}

func TestClaimJobs_SkipsCancelledJob(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	j := newJob("q", job.PriorityNormal, time.Now().UTC().Add(-time.Minute))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	j.State = job.StateCancelled
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	claimed, err := s.ClaimJobs(ctx, "q", id.NewWorkerID(), 10)
	if err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d jobs, want 0 (cancelled job must not activate)", len(claimed))
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("State = %q, want cancelled", got.State)
	}
}

func TestReapStaleJobs_ReturnsOnlyStaleActive(t *testing.T) {
	t.Parallel()
	s, client := newStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	abandoned := newJob("q", job.PriorityNormal, past)
	healthy := newJob("q", job.PriorityNormal, past)
	for _, j := range []*job.Job{abandoned, healthy} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if _, err := s.ClaimJobs(ctx, "q", id.NewWorkerID(), 2); err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}

	// Age one heartbeat past the threshold.
	old := time.Now().UTC().Add(-2 * time.Minute).Format(time.RFC3339Nano)
	if err := client.HSet(ctx, "pulse:job:"+abandoned.ID.String(), "heartbeat_at", old).Err(); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale = %d jobs, want 1", len(stale))
	}
	if stale[0].ID != abandoned.ID {
		t.Errorf("stale job = %s, want %s", stale[0].ID, abandoned.ID)
	}
}

func TestReapStaleJobs_ReattachesStrandedClaim(t *testing.T) {
	t.Parallel()
	s, client := newStore(t)
	ctx := context.Background()

	j := newJob("q", job.PriorityNormal, time.Now().UTC().Add(-time.Minute))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	// A claimer that dies after popping leaves the job queued but in
	// neither sorted set.
	if err := client.ZRem(ctx, "pulse:ready:q", j.ID.String()).Err(); err != nil {
		t.Fatalf("ZRem: %v", err)
	}

	claimed, err := s.ClaimJobs(ctx, "q", id.NewWorkerID(), 10)
	if err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d jobs before reattach, want 0", len(claimed))
	}

	if _, err := s.ReapStaleJobs(ctx, time.Minute); err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}

	claimed, err = s.ClaimJobs(ctx, "q", id.NewWorkerID(), 10)
	if err != nil {
		t.Fatalf("ClaimJobs after reattach: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != j.ID {
		t.Fatalf("claim after reattach = %v, want job %s", claimed, j.ID)
	}
	if claimed[0].State != job.StateActive {
		t.Errorf("State = %q, want active", claimed[0].State)
	}
}
