package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
)

// EnqueueJob stores the job as a Hash and adds it to the queue's ready or
// scheduled Sorted Set, depending on its RunAt.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return pulse.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	s.addToQueue(ctx, pipe, j, j.RunAt)

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: enqueue job: %w", err)
	}
	return nil
}

// ClaimJobs pops up to limit jobs from the queue's ready set, transitions
// them to active, and counts the attempt. Scheduled jobs whose RunAt has
// arrived are promoted into the ready set first. ZPopMin makes the claim
// itself atomic: each member goes to exactly one caller even across
// processes. An error between the pop and the activation puts the
// unactivated members back into the ready set; a crash in that window is
// healed by the reaper's reattach pass.
func (s *Store) ClaimJobs(ctx context.Context, queue string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := s.promoteScheduled(ctx, queue); err != nil {
		return nil, err
	}

	members, err := s.client.ZPopMin(ctx, readyKey(queue), int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: claim zpopmin: %w", err)
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)
	jobs := make([]*job.Job, 0, len(members))

	for i, z := range members {
		jID, ok := z.Member.(string)
		if !ok {
			continue
		}
		key := jobKey(jID)

		// Cancellation updates the hash without touching the sorted sets,
		// so a cancelled job can still surface here. Drop it: popping
		// already removed it from the ready set.
		cur, curErr := s.getJobByKey(ctx, key)
		if curErr != nil {
			if errors.Is(curErr, pulse.ErrJobNotFound) {
				continue
			}
			s.restoreReady(ctx, queue, members[i:])
			return nil, curErr
		}
		if cur.State != job.StateQueued && cur.State != job.StateFailed {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key,
			"state", string(job.StateActive),
			"worker_id", workerID.String(),
			"last_attempt_at", nowStr,
			"heartbeat_at", nowStr,
			"updated_at", nowStr,
		)
		pipe.HIncrBy(ctx, key, "attempts_made", 1)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			s.restoreReady(ctx, queue, members[i:])
			return nil, fmt.Errorf("pulse/redis: claim update: %w", pErr)
		}

		j, getErr := s.getJobByKey(ctx, key)
		if getErr != nil {
			// The current member is already active; the reaper recovers it.
			s.restoreReady(ctx, queue, members[i+1:])
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// restoreReady puts popped members back with their original scores so a
// failed claim pass does not strand them outside the sorted sets.
func (s *Store) restoreReady(ctx context.Context, queue string, members []goredis.Z) {
	if len(members) == 0 {
		return
	}
	if err := s.client.ZAdd(ctx, readyKey(queue), members...).Err(); err != nil {
		s.logger.Warn("failed to restore popped claim members",
			slog.String("queue", queue),
			slog.String("error", err.Error()),
		)
	}
}

// promoteScheduled moves jobs whose RunAt has arrived from the scheduled
// set into the ready set. A job promoted by two pollers concurrently is
// harmless: ZAdd is idempotent and ZPopMin still hands the member to one
// claimer.
func (s *Store) promoteScheduled(ctx context.Context, queue string) error {
	now := time.Now().UTC()
	due, err := s.client.ZRangeByScoreWithScores(ctx, scheduledKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: promote scheduled: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, z := range due {
		jID, ok := z.Member.(string)
		if !ok {
			continue
		}
		weight, wErr := s.client.HGet(ctx, jobKey(jID), "priority_weight").Int()
		if wErr != nil && !errors.Is(wErr, goredis.Nil) {
			return fmt.Errorf("pulse/redis: promote weight: %w", wErr)
		}
		runAt := time.UnixMilli(int64(z.Score)).UTC()
		pipe.ZAdd(ctx, readyKey(queue), goredis.Z{Score: readyScore(weight, runAt), Member: jID})
		pipe.ZRem(ctx, scheduledKey(queue), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: promote exec: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err = s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("pulse/redis: update job: %w", err)
	}
	return nil
}

// RequeueJob returns a claimed job to its queue's ordering with the
// given RunAt. The hash is rewritten with the caller's state so retry
// bookkeeping lands with the scheduling in one transaction.
func (s *Store) RequeueJob(ctx context.Context, j *job.Job, runAt time.Time) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: requeue exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrJobNotFound
	}

	cp := *j
	cp.RunAt = runAt
	fields := jobToMap(&cp)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	s.addToQueue(ctx, pipe, &cp, runAt)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: requeue job: %w", err)
	}
	return nil
}

// addToQueue routes a job into the ready or scheduled set based on runAt.
func (s *Store) addToQueue(ctx context.Context, pipe goredis.Pipeliner, j *job.Job, runAt time.Time) {
	jID := j.ID.String()
	if runAt.After(time.Now().UTC()) {
		pipe.ZAdd(ctx, scheduledKey(j.Queue), goredis.Z{
			Score:  float64(runAt.UnixMilli()),
			Member: jID,
		})
		return
	}
	pipe.ZAdd(ctx, readyKey(j.Queue), goredis.Z{
		Score:  readyScore(j.Priority.Weight(), runAt),
		Member: jID,
	})
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	// Get queue name before deleting to remove from the sorted sets.
	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return pulse.ErrJobNotFound
		}
		return fmt.Errorf("pulse/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, readyKey(q), jID)
	pipe.ZRem(ctx, scheduledKey(q), jID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})

	if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Offset > 0 {
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
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
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// the threshold. Claimable jobs found outside both sorted sets — a
// claimer crashed between the pop and the activation — are reattached
// so they become claimable again.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		switch j.State {
		case job.StateActive:
			if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
				stale = append(stale, j)
			}
		case job.StateQueued, job.StateFailed:
			if reErr := s.reattachOrphan(ctx, j); reErr != nil {
				s.logger.Warn("failed to reattach orphaned job",
					slog.String("job_id", jID),
					slog.String("error", reErr.Error()),
				)
			}
		}
	}
	return stale, nil
}

// reattachOrphan re-adds a claimable job to its queue's ordering when it
// is a member of neither sorted set. Membership in either set means the
// job is routed normally.
func (s *Store) reattachOrphan(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	for _, key := range []string{readyKey(j.Queue), scheduledKey(j.Queue)} {
		err := s.client.ZScore(ctx, key, jID).Err()
		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("pulse/redis: reattach zscore: %w", err)
		}
	}

	pipe := s.client.TxPipeline()
	s.addToQueue(ctx, pipe, j, j.RunAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: reattach orphan: %w", err)
	}
	return nil
}

// PurgeJobs evicts terminal job records in the given state, keeping at
// most keep records and none older than the cutoff.
func (s *Store) PurgeJobs(ctx context.Context, state job.State, keep int, cutoff time.Time) (int64, error) {
	if !state.Terminal() {
		return 0, pulse.ErrInvalidState
	}

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: purge smembers: %w", err)
	}

	matching := make([]*job.Job, 0)
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
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
		jID := j.ID.String()
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, jobKey(jID))
		pipe.SRem(ctx, jobIDsKey, jID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return evicted, fmt.Errorf("pulse/redis: purge del: %w", pErr)
		}
		evicted++
	}
	return evicted, nil
}

// ── helpers ──

// readyScore computes a ready-set score from priority weight and runAt.
// Lower score = claimed first. Weight is negated and scaled far above the
// millisecond clock so priority dominates, with admission time breaking
// ties FIFO.
func readyScore(weight int, runAt time.Time) float64 {
	return float64(-weight)*1e15 + float64(runAt.UnixMilli())
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":              j.ID.String(),
		"tenant_id":       j.TenantID,
		"type":            j.Type,
		"queue":           j.Queue,
		"payload":         string(j.Payload),
		"priority":        string(j.Priority),
		"priority_weight": strconv.Itoa(j.Priority.Weight()),
		"idempotency_key": j.IdempotencyKey,
		"metadata":        marshalMap(j.Metadata),
		"state":           string(j.State),
		"attempts_made":   strconv.Itoa(j.AttemptsMade),
		"max_attempts":    strconv.Itoa(j.MaxAttempts),
		"last_error":      j.LastError,
		"result":          string(j.Result),
		"worker_id":       j.WorkerID.String(),
		"run_at":          j.RunAt.Format(time.RFC3339Nano),
		"created_at":      j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.LastAttemptAt != nil {
		m["last_attempt_at"] = j.LastAttemptAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, pulse.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: parse job id: %w", err)
	}

	attemptsMade, _ := strconv.Atoi(m["attempts_made"]) //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])   //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:             jID,
		TenantID:       m["tenant_id"],
		Type:           m["type"],
		Queue:          m["queue"],
		Payload:        []byte(m["payload"]),
		Priority:       job.Priority(m["priority"]),
		IdempotencyKey: m["idempotency_key"],
		Metadata:       unmarshalMap(m["metadata"]),
		State:          job.State(m["state"]),
		AttemptsMade:   attemptsMade,
		MaxAttempts:    maxAttempts,
		LastError:      m["last_error"],
		RunAt:          runAt,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["last_attempt_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.LastAttemptAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}
	return j, nil
}
