package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
)

// PushDLQ adds an escalated job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, most recently
// moved first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		if opts.JobType != "" && e.JobType != opts.JobType {
			continue
		}
		if !opts.IncludeReplayed && e.ReplayedAt != nil {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].MovedAt.After(entries[k].MovedAt)
	})

	if opts.Offset >= len(entries) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Offset > 0 {
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, pulse.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// MarkReplayed stamps a DLQ entry as replayed.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID, at time.Time) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: mark replayed exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrDLQNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"replayed_at", at.UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: mark replayed: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with MovedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		movedAtStr, getErr := s.client.HGet(ctx, key, "moved_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("pulse/redis: purge dlq get: %w", getErr)
		}

		movedAt, _ := time.Parse(time.RFC3339Nano, movedAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if movedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("pulse/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":             e.ID.String(),
		"job_id":         e.JobID.String(),
		"tenant_id":      e.TenantID,
		"job_type":       e.JobType,
		"queue":          e.Queue,
		"priority":       string(e.Priority),
		"payload":        string(e.Payload),
		"metadata":       marshalMap(e.Metadata),
		"failure_reason": e.FailureReason,
		"attempts_made":  strconv.Itoa(e.AttemptsMade),
		"max_attempts":   strconv.Itoa(e.MaxAttempts),
		"moved_at":       e.MovedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	attemptsMade, _ := strconv.Atoi(m["attempts_made"])       //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])         //nolint:errcheck // best-effort parse from trusted Redis data
	movedAt, _ := time.Parse(time.RFC3339Nano, m["moved_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:            eID,
		JobID:         jobID,
		TenantID:      m["tenant_id"],
		JobType:       m["job_type"],
		Queue:         m["queue"],
		Priority:      job.Priority(m["priority"]),
		Payload:       []byte(m["payload"]),
		Metadata:      unmarshalMap(m["metadata"]),
		FailureReason: m["failure_reason"],
		AttemptsMade:  attemptsMade,
		MaxAttempts:   maxAttempts,
		MovedAt:       movedAt,
	}
	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}

// marshalMap serializes a string map to JSON for hash storage.
func marshalMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, _ := json.Marshal(m) //nolint:errcheck // marshal cannot fail for string maps
	return string(b)
}

// unmarshalMap parses a JSON map.
func unmarshalMap(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
