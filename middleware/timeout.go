package middleware

import (
	"context"
	"time"

	"github.com/imsks/pulse/job"
)

// Timeout returns middleware that enforces a per-attempt execution
// deadline. perType resolves the deadline for a job type; a zero result
// falls back to def, and a zero deadline disables the limit. When the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded.
func Timeout(def time.Duration, perType func(jobType string) time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := def
		if perType != nil {
			if td := perType(j.Type); td > 0 {
				d = td
			}
		}
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
