package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/job"
)

// Sweep evicts terminal job records past their retention bounds:
// completed jobs by the completed policy, dead and cancelled jobs by the
// longer debugging policy. Eviction is observability housekeeping only —
// it never touches queued, failed, or active jobs, so it cannot affect
// in-flight processing. Returns the number of records evicted.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var total int64

	sweeps := []struct {
		state job.State
		ret   pulse.Retention
	}{
		{job.StateCompleted, e.cfg.CompletedRetention},
		{job.StateCancelled, e.cfg.CompletedRetention},
		{job.StateDead, e.cfg.DeadRetention},
	}

	for _, s := range sweeps {
		n, err := e.store.PurgeJobs(ctx, s.state, s.ret.MaxCount, now.Add(-s.ret.MaxAge))
		if err != nil {
			return total, err
		}
		total += n
	}

	if total > 0 {
		e.logger.Debug("retention sweep evicted job records", slog.Int64("evicted", total))
	}
	return total, nil
}

// RunRetention runs Sweep on the given interval until ctx is cancelled.
// Intended to run in one goroutine per worker process; concurrent sweeps
// across processes are harmless, just wasteful.
func (e *Engine) RunRetention(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.logger.Error("retention sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
