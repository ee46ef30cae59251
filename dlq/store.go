package dlq

import (
	"context"
	"time"

	"github.com/imsks/pulse/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
	// JobType filters by job type. Empty means all types.
	JobType string
	// IncludeReplayed includes entries that have already been replayed.
	IncludeReplayed bool
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds an escalated job entry to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching the given options, most recently
	// moved first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// MarkReplayed stamps an entry as replayed. The re-enqueue itself is
	// handled at the service layer.
	MarkReplayed(ctx context.Context, entryID id.DLQID, at time.Time) error

	// PurgeDLQ removes entries with MovedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the dead letter queue.
	CountDLQ(ctx context.Context) (int64, error)
}
