package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/engine"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/throttle"
)

// ─────────────────────────────────────────────────────────────────────
// Pool options
// ─────────────────────────────────────────────────────────────────────

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithThrottle attaches a local concurrency/rate gate. Claims denied by
// the gate are released back to the queue without burning an attempt.
func WithThrottle(m *throttle.Manager) PoolOption {
	return func(p *Pool) { p.throttle = m }
}

// WithHeartbeatInterval overrides how often active jobs are heartbeated.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleThreshold overrides how long a job may go without a heartbeat
// before the reaper recovers it.
func WithStaleThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleThreshold = d }
}

// ─────────────────────────────────────────────────────────────────────
// Pool
// ─────────────────────────────────────────────────────────────────────

// Pool runs a fixed number of claim loops against the engine. Each loop
// claims one ready job at a time, executes it, and reports the outcome.
// The pool also heartbeats its active jobs and periodically reaps jobs
// abandoned by dead workers.
type Pool struct {
	id       id.WorkerID
	eng      *engine.Engine
	exec     *Executor
	throttle *throttle.Manager
	logger   *slog.Logger

	concurrency       int
	pollInterval      time.Duration
	shutdownTimeout   time.Duration
	heartbeatInterval time.Duration
	staleThreshold    time.Duration

	mu      sync.Mutex
	active  map[id.JobID]context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewPool creates a worker pool. Concurrency, poll interval and shutdown
// timeout come from the engine's config; heartbeat and staleness
// defaults derive from the poll interval and can be overridden.
func NewPool(eng *engine.Engine, exec *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	cfg := eng.Config()
	p := &Pool{
		id:                id.NewWorkerID(),
		eng:               eng,
		exec:              exec,
		logger:            logger,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		shutdownTimeout:   cfg.ShutdownTimeout,
		heartbeatInterval: 10 * time.Second,
		staleThreshold:    60 * time.Second,
		active:            make(map[id.JobID]context.CancelFunc),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.pollInterval <= 0 {
		p.pollInterval = time.Second
	}
	return p
}

// ID returns the pool's worker identity, stamped on every claimed job.
func (p *Pool) ID() id.WorkerID { return p.id }

// Start launches the claim loops plus the heartbeat and reaper loops.
// It returns immediately; use Stop for graceful shutdown.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return pulse.ErrInvalidState
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.id.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.claimLoop(ctx)
	}
	p.wg.Add(2)
	go p.heartbeatLoop(ctx)
	go p.reaperLoop(ctx)

	go func() {
		p.wg.Wait()
		close(p.doneCh)
	}()
	return nil
}

// Stop drains the pool: claim loops stop picking up work, and active
// jobs get the engine's shutdown timeout to finish before their
// contexts are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	// Flip under the lock so a second Stop never reaches the close.
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)

	timeout := p.shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-p.doneCh:
		p.logger.Info("worker pool drained", slog.String("worker_id", p.id.String()))
		return nil
	case <-time.After(timeout):
		p.cancelActiveJobs()
		<-p.doneCh
		p.logger.Warn("worker pool shutdown timed out, active jobs cancelled",
			slog.String("worker_id", p.id.String()),
		)
		return nil
	case <-ctx.Done():
		p.cancelActiveJobs()
		return ctx.Err()
	}
}

func (p *Pool) cancelActiveJobs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.active {
		cancel()
	}
}

// ─────────────────────────────────────────────────────────────────────
// Loops
// ─────────────────────────────────────────────────────────────────────

func (p *Pool) claimLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.claimAndRun(ctx)
		}
	}
}

func (p *Pool) claimAndRun(ctx context.Context) {
	jobs, err := p.eng.Claim(ctx, p.id, 1)
	if err != nil {
		p.logger.Error("claim failed",
			slog.String("worker_id", p.id.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, j := range jobs {
		p.runJob(ctx, j)
	}
}

func (p *Pool) runJob(ctx context.Context, j *job.Job) {
	if p.throttle != nil && !p.throttle.Acquire(j.Queue, j.TenantID) {
		// Local gate is saturated. Put the claim back without counting
		// the attempt; another worker or a later poll picks it up.
		if err := p.eng.Release(ctx, j, p.pollInterval); err != nil {
			p.logger.Error("failed to release throttled job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer func() {
		if p.throttle != nil {
			p.throttle.Release(j.Queue, j.TenantID)
		}
	}()

	jobCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.active[j.ID] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.active, j.ID)
		p.mu.Unlock()
	}()

	p.eng.Hooks().EmitJobStarted(jobCtx, j)

	if err := p.exec.Execute(jobCtx, j); err != nil {
		p.logger.Debug("job attempt did not complete",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.heartbeatActive(ctx)
		}
	}
}

func (p *Pool) heartbeatActive(ctx context.Context) {
	p.mu.Lock()
	ids := make([]id.JobID, 0, len(p.active))
	for jid := range p.active {
		ids = append(ids, jid)
	}
	p.mu.Unlock()

	for _, jid := range ids {
		if err := p.eng.Heartbeat(ctx, jid, p.id); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jid.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) reaperLoop(ctx context.Context) {
	defer p.wg.Done()

	// Reap on a multiple of the staleness threshold so every pool member
	// shares the duty without hammering the store.
	ticker := time.NewTicker(p.staleThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := p.eng.ReapStale(ctx, p.staleThreshold)
			if err != nil {
				p.logger.Error("stale job reap failed", slog.String("error", err.Error()))
				continue
			}
			if recovered > 0 {
				p.logger.Info("recovered stale jobs", slog.Int("count", recovered))
			}
		}
	}
}
