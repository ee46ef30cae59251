package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/job"
)

// tenantIDPattern bounds the tenant identifier charset. Tenant IDs end up
// in store keys, so the charset stays conservative.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationError reports why a submission was rejected. It unwraps to
// pulse.ErrInvalidJob so callers can branch with errors.Is.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return pulse.ErrInvalidJob }

// sanitize trims the string fields callers commonly pad.
func sanitize(sub Submission) Submission {
	sub.TenantID = strings.TrimSpace(sub.TenantID)
	sub.Type = strings.TrimSpace(sub.Type)
	sub.IdempotencyKey = strings.TrimSpace(sub.IdempotencyKey)
	return sub
}

// validate checks the canonical job schema. It accumulates every problem
// rather than stopping at the first so the caller gets one complete
// rejection.
func validate(sub Submission) error {
	var problems []string

	switch {
	case sub.TenantID == "":
		problems = append(problems, "tenantId is required")
	case !tenantIDPattern.MatchString(sub.TenantID):
		problems = append(problems, "tenantId contains invalid characters")
	}

	if sub.Type == "" {
		problems = append(problems, "jobType is required")
	}

	if sub.Payload == nil {
		problems = append(problems, "payload is required")
	}

	if sub.Priority != "" && !sub.Priority.Valid() {
		problems = append(problems, "priority must be one of: high, normal, low")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// normalizePriority applies the default priority.
func normalizePriority(p job.Priority) job.Priority {
	if p == "" {
		return job.PriorityNormal
	}
	return p
}
