package dlq

import (
	"context"
	"time"

	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Escalate builds a DLQ Entry from a dead job and persists it. The failure
// reason is captured from the final handler error. Returns the new entry.
func (s *Service) Escalate(ctx context.Context, j *job.Job, jobErr error) (*Entry, error) {
	entry := &Entry{
		ID:            id.NewDLQID(),
		JobID:         j.ID,
		TenantID:      j.TenantID,
		JobType:       j.Type,
		Queue:         j.Queue,
		Priority:      j.Priority,
		Payload:       j.Payload,
		Metadata:      j.Metadata,
		FailureReason: jobErr.Error(),
		AttemptsMade:  j.AttemptsMade,
		MaxAttempts:   j.MaxAttempts,
		MovedAt:       time.Now().UTC(),
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns DLQ entries matching opts, most recently moved first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get retrieves a single entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Purge removes entries moved before the given time and returns the count.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// Count returns the total number of entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}
