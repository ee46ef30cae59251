package dlq

import (
	"encoding/json"
	"time"

	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
)

// Entry represents a job that was escalated to the dead letter queue for
// inspection or replay.
type Entry struct {
	ID            id.DLQID          `json:"id"`
	JobID         id.JobID          `json:"jobId"`
	TenantID      string            `json:"tenantId"`
	JobType       string            `json:"jobType"`
	Queue         string            `json:"queue"`
	Priority      job.Priority      `json:"priority"`
	Payload       json.RawMessage   `json:"originalPayload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FailureReason string            `json:"failureReason"`
	AttemptsMade  int               `json:"attemptsMade"`
	MaxAttempts   int               `json:"maxAttempts"`
	MovedAt       time.Time         `json:"movedAt"`
	ReplayedAt    *time.Time        `json:"replayedAt,omitempty"`
}
