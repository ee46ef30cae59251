package dlq

import (
	"context"
	"time"

	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
)

// MetadataReplayedFrom is the metadata key on a replayed job that points
// back at the originating DLQ entry, preserving the failure history.
const MetadataReplayedFrom = "replayedFrom"

// Replay re-admits a DLQ entry's original payload as a fresh queued job
// and marks the entry as replayed. The new job gets a fresh ID, the dead
// job's priority, a zeroed attempt counter, and is ready immediately.
// Its metadata carries a reference to the originating entry.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(entry.Metadata)+1)
	for k, v := range entry.Metadata {
		meta[k] = v
	}
	meta[MetadataReplayedFrom] = entry.ID.String()

	priority := entry.Priority
	if priority == "" {
		priority = job.PriorityNormal
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		TenantID:    entry.TenantID,
		Type:        entry.JobType,
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		Priority:    priority,
		Metadata:    meta,
		State:       job.StateQueued,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.MarkReplayed(ctx, entryID, now); err != nil {
		// The job is already enqueued. Surface the error but keep the job.
		return j, err
	}

	return j, nil
}
