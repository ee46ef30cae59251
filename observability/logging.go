package observability

import (
	"context"
	"log/slog"

	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/ext"
	"github.com/imsks/pulse/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension   = (*LoggingExtension)(nil)
	_ ext.JobEnqueued = (*LoggingExtension)(nil)
	_ ext.JobDead     = (*LoggingExtension)(nil)
)

// LoggingExtension emits a structured log line for admission and
// dead-letter events. Per-attempt logging lives in the worker's
// middleware; this extension covers the control-plane events workers
// never see.
type LoggingExtension struct {
	logger *slog.Logger
}

// NewLoggingExtension creates a LoggingExtension.
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{logger: logger}
}

// Name implements ext.Extension.
func (l *LoggingExtension) Name() string { return "observability-logging" }

// OnJobEnqueued implements ext.JobEnqueued.
func (l *LoggingExtension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	l.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
		slog.String("priority", string(j.Priority)),
	)
	return nil
}

// OnJobDead implements ext.JobDead.
func (l *LoggingExtension) OnJobDead(_ context.Context, j *job.Job, entry *dlq.Entry, err error) error {
	attrs := []any{
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
		slog.Int("attempts", j.AttemptsMade),
		slog.String("error", err.Error()),
	}
	if entry != nil {
		attrs = append(attrs, slog.String("dlq_entry_id", entry.ID.String()))
	}
	l.logger.Error("job dead lettered", attrs...)
	return nil
}
