package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imsks/pulse"
	pulsedlq "github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/store/memory"
)

func newDeadJob(jobType string, payload []byte) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:           id.NewJobID(),
		TenantID:     "acme",
		Type:         jobType,
		Queue:        "pulse-jobs",
		Payload:      payload,
		Priority:     job.PriorityNormal,
		Metadata:     map[string]string{"source": "api"},
		State:        job.StateDead,
		AttemptsMade: 3,
		MaxAttempts:  3,
		LastError:    "smtp timeout",
		RunAt:        now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestEscalate_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := pulsedlq.NewService(s, s)
	ctx := context.Background()

	j := newDeadJob("SEND_EMAIL", []byte(`{"to":"alice@example.com"}`))
	entry, err := svc.Escalate(ctx, j, errors.New("smtp timeout"))
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.TenantID != "acme" {
		t.Errorf("TenantID = %q, want %q", entry.TenantID, "acme")
	}
	if entry.JobType != "SEND_EMAIL" {
		t.Errorf("JobType = %q, want %q", entry.JobType, "SEND_EMAIL")
	}
	if string(entry.Payload) != `{"to":"alice@example.com"}` {
		t.Errorf("Payload = %s", entry.Payload)
	}
	if entry.FailureReason != "smtp timeout" {
		t.Errorf("FailureReason = %q, want %q", entry.FailureReason, "smtp timeout")
	}
	if entry.AttemptsMade != 3 {
		t.Errorf("AttemptsMade = %d, want 3", entry.AttemptsMade)
	}
	if entry.MovedAt.IsZero() {
		t.Error("MovedAt not stamped")
	}

	stored, err := svc.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.ID != entry.ID {
		t.Errorf("stored.ID = %v, want %v", stored.ID, entry.ID)
	}
}

func TestReplay_ResetsAttemptsAndLinksEntry(t *testing.T) {
	s := memory.New()
	svc := pulsedlq.NewService(s, s)
	ctx := context.Background()

	dead := newDeadJob("SEND_EMAIL", []byte(`{"to":"bob@example.com"}`))
	entry, err := svc.Escalate(ctx, dead, errors.New("boom"))
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == dead.ID {
		t.Error("replayed job should get a fresh ID")
	}
	if replayed.State != job.StateQueued {
		t.Errorf("State = %q, want %q", replayed.State, job.StateQueued)
	}
	if replayed.AttemptsMade != 0 {
		t.Errorf("AttemptsMade = %d, want 0", replayed.AttemptsMade)
	}
	if string(replayed.Payload) != string(dead.Payload) {
		t.Errorf("Payload changed on replay: %s", replayed.Payload)
	}
	if replayed.Metadata[pulsedlq.MetadataReplayedFrom] != entry.ID.String() {
		t.Errorf("Metadata[%s] = %q, want %q",
			pulsedlq.MetadataReplayedFrom, replayed.Metadata[pulsedlq.MetadataReplayedFrom], entry.ID.String())
	}

	// Requeued in the job store.
	queued, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if queued.State != job.StateQueued {
		t.Errorf("stored State = %q, want queued", queued.State)
	}

	// Entry stamped as replayed.
	got, err := svc.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get entry: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Error("entry not marked replayed")
	}
}

func TestReplay_PreservesPriority(t *testing.T) {
	s := memory.New()
	svc := pulsedlq.NewService(s, s)
	ctx := context.Background()

	dead := newDeadJob("SEND_EMAIL", []byte(`{}`))
	dead.Priority = job.PriorityHigh
	entry, err := svc.Escalate(ctx, dead, errors.New("boom"))
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if entry.Priority != job.PriorityHigh {
		t.Errorf("entry Priority = %q, want high", entry.Priority)
	}

	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.Priority != job.PriorityHigh {
		t.Errorf("replayed Priority = %q, want high", replayed.Priority)
	}
}

func TestReplay_UnknownEntry(t *testing.T) {
	s := memory.New()
	svc := pulsedlq.NewService(s, s)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, pulse.ErrDLQNotFound) {
		t.Fatalf("error = %v, want ErrDLQNotFound", err)
	}
}

func TestListExcludesReplayedByDefault(t *testing.T) {
	s := memory.New()
	svc := pulsedlq.NewService(s, s)
	ctx := context.Background()

	first, err := svc.Escalate(ctx, newDeadJob("A", []byte(`{}`)), errors.New("x"))
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if _, err := svc.Escalate(ctx, newDeadJob("B", []byte(`{}`)), errors.New("y")); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if _, err := svc.Replay(ctx, first.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	entries, err := svc.List(ctx, pulsedlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 unreplayed entry, got %d", len(entries))
	}
	if entries[0].JobType != "B" {
		t.Errorf("remaining entry JobType = %q, want B", entries[0].JobType)
	}

	all, err := svc.List(ctx, pulsedlq.ListOpts{Limit: 10, IncludeReplayed: true})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries with IncludeReplayed, got %d", len(all))
	}
}

func TestPurgeAndCount(t *testing.T) {
	s := memory.New()
	svc := pulsedlq.NewService(s, s)
	ctx := context.Background()

	if _, err := svc.Escalate(ctx, newDeadJob("A", []byte(`{}`)), errors.New("x")); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	count, err := svc.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("Count = %d, want 1", count)
	}

	// Nothing older than an hour ago.
	purged, err := svc.Purge(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 0 {
		t.Errorf("purged = %d, want 0", purged)
	}

	// Everything older than the future.
	purged, err = svc.Purge(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}
