// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development;
// the atomic primitives are emulated with a single mutex, so the
// cross-process guarantees of the Redis store do not apply.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/idempotency"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/ratelimit"
)

// Verify each subsystem contract at compile time.
var (
	_ job.Store              = (*Store)(nil)
	_ dlq.Store              = (*Store)(nil)
	_ idempotency.Store      = (*Store)(nil)
	_ ratelimit.CounterStore = (*Store)(nil)
)

type reservation struct {
	rec       idempotency.Record
	expiresAt time.Time
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// Store is a fully in-memory implementation of all four persistence
// contracts: jobs, dead letter queue, idempotency reservations, and
// rate-limit counters.
type Store struct {
	mu sync.RWMutex

	jobs         map[string]*job.Job
	dlqs         map[string]*dlq.Entry
	reservations map[string]*reservation
	counters     map[string]*counter
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:         make(map[string]*job.Job),
		dlqs:         make(map[string]*dlq.Entry),
		reservations: make(map[string]*reservation),
		counters:     make(map[string]*counter),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Ping / Close
// ──────────────────────────────────────────────────

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in queued state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return pulse.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimJobs atomically claims up to limit ready jobs from the given
// queue, sets them to active, counts the attempt, and returns them.
func (m *Store) ClaimJobs(_ context.Context, queue string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !j.Ready(now) {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		candidates = append(candidates, j)
	}

	// Sort: priority weight DESC, RunAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		wi, wk := candidates[i].Priority.Weight(), candidates[k].Priority.Weight()
		if wi != wk {
			return wi > wk
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateActive
		j.WorkerID = workerID
		j.AttemptsMade++
		n := now
		j.LastAttemptAt = &n
		j.HeartbeatAt = &n
		j.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, pulse.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return pulse.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// RequeueJob returns a claimed job to its queue's ready ordering with
// the given RunAt.
func (m *Store) RequeueJob(_ context.Context, j *job.Job, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return pulse.ErrJobNotFound
	}
	cp := *j
	cp.RunAt = runAt
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return pulse.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return pulse.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// PurgeJobs evicts terminal job records in the given state, keeping at
// most keep records and none older than the cutoff.
func (m *Store) PurgeJobs(_ context.Context, state job.State, keep int, cutoff time.Time) (int64, error) {
	if !state.Terminal() {
		return 0, pulse.ErrInvalidState
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	matching := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.State == state {
			matching = append(matching, j)
		}
	}

	// Newest first, so the keep window retains the most recent records.
	sort.Slice(matching, func(i, k int) bool {
		return matching[i].UpdatedAt.After(matching[k].UpdatedAt)
	})

	var evicted int64
	for i, j := range matching {
		if i < keep && !j.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(m.jobs, j.ID.String())
		evicted++
	}
	return evicted, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an escalated job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the given options, most recently
// moved first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		if opts.JobType != "" && e.JobType != opts.JobType {
			continue
		}
		if !opts.IncludeReplayed && e.ReplayedAt != nil {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].MovedAt.After(result[k].MovedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, pulse.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkReplayed stamps a DLQ entry as replayed.
func (m *Store) MarkReplayed(_ context.Context, entryID id.DLQID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return pulse.ErrDLQNotFound
	}
	e.ReplayedAt = &at
	return nil
}

// PurgeDLQ removes DLQ entries with MovedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.MovedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

// ReserveKey atomically claims key if it is absent or expired.
func (m *Store) ReserveKey(_ context.Context, key string, rec idempotency.Record, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if r, ok := m.reservations[key]; ok && r.expiresAt.After(now) {
		return false, nil
	}
	m.reservations[key] = &reservation{rec: rec, expiresAt: now.Add(ttl)}
	return true, nil
}

// LookupKey returns the record for key if a live reservation exists.
func (m *Store) LookupKey(_ context.Context, key string) (*idempotency.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[key]
	if !ok || !r.expiresAt.After(time.Now().UTC()) {
		return nil, pulse.ErrIdempotencyNotFound
	}
	cp := r.rec
	return &cp, nil
}

// ReleaseKey removes a reservation.
func (m *Store) ReleaseKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.reservations, key)
	return nil
}

// ──────────────────────────────────────────────────
// Rate-Limit Counter Store
// ──────────────────────────────────────────────────

// IncrCounter atomically increments the counter for key, seeding the
// window expiry on the first increment.
func (m *Store) IncrCounter(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	c, ok := m.counters[key]
	if !ok || !c.expiresAt.After(now) {
		c = &counter{expiresAt: now.Add(window)}
		m.counters[key] = c
	}
	c.count++
	return c.count, c.expiresAt.Sub(now), nil
}

// PeekCounter returns the current count and remaining lifetime without
// consuming a slot.
func (m *Store) PeekCounter(_ context.Context, key string) (int64, time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	c, ok := m.counters[key]
	if !ok || !c.expiresAt.After(now) {
		return 0, 0, nil
	}
	return c.count, c.expiresAt.Sub(now), nil
}
