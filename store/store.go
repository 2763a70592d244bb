// Package store wraps the shared key-value store (§6): job records as
// hashes, per-job audit lists, dedup keys with TTL, and translation
// checkpoints. Every writer owns a distinct key prefix so no cross-prefix
// transaction is ever required (spec §9's "Global state" note).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensubs-io/subsync/job"
)

const (
	jobKeyPrefix        = "job:"
	jobEventsKeySuffix  = ":events"
	dedupKeyPrefix      = "dedup:"
	checkpointKeyPrefix = "checkpoint:"
)

// ErrNotFound is returned when a lookup by key finds nothing, mirroring
// redis.Nil without leaking the redis package to callers that might be
// using the in-memory Store for tests.
var ErrNotFound = errors.New("store: not found")

// Store is the interface every service depends on. The translator only
// touches the checkpoint: prefix; job: records are written by the
// orchestrator at submission and by the consumer afterwards.
type Store interface {
	// Job record (job:<job_id>)
	GetJob(ctx context.Context, jobID string) (*job.Record, error)
	PutJob(ctx context.Context, r *job.Record) error

	// Audit list (job:<job_id>:events), bounded and newest-first.
	AppendAudit(ctx context.Context, jobID string, envelopeJSON []byte, maxLen int64) error
	ListAudit(ctx context.Context, jobID string, limit int64) ([][]byte, error)

	// Dedup key (dedup:<fingerprint>)
	ReserveDedup(ctx context.Context, fingerprint, jobID string, ttl time.Duration) (reserved bool, existingJobID string, err error)
	ReleaseDedup(ctx context.Context, fingerprint string) error
	RefreshDedup(ctx context.Context, fingerprint string, ttl time.Duration) error

	// Checkpoint (checkpoint:<job_id>)
	GetCheckpoint(ctx context.Context, jobID string) (*Checkpoint, error)
	PutCheckpoint(ctx context.Context, c *Checkpoint) error
	DeleteCheckpoint(ctx context.Context, jobID string) error

	// Ping reports store connectivity for health checks.
	Ping(ctx context.Context) error
}

// Checkpoint mirrors spec §3's translation checkpoint record.
type Checkpoint struct {
	JobID           string           `json:"job_id"`
	ChunksTotal     int              `json:"chunks_total"`
	ChunksCompleted []int            `json:"chunks_completed"`
	Translations    map[int][]string `json:"translations"`
	SourceLanguage  string           `json:"source_language"`
	TargetLanguage  string           `json:"target_language"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// RedisStore is the production Store backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing store url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*job.Record, error) {
	fields, err := s.client.HGetAll(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return job.FromFields(fields), nil
}

func (s *RedisStore) PutJob(ctx context.Context, r *job.Record) error {
	if err := s.client.HSet(ctx, jobKeyPrefix+r.JobID, r.ToFields()).Err(); err != nil {
		return fmt.Errorf("putting job %s: %w", r.JobID, err)
	}
	return nil
}

func (s *RedisStore) AppendAudit(ctx context.Context, jobID string, envelopeJSON []byte, maxLen int64) error {
	key := jobKeyPrefix + jobID + jobEventsKeySuffix
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, envelopeJSON)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending audit entry for %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) ListAudit(ctx context.Context, jobID string, limit int64) ([][]byte, error) {
	key := jobKeyPrefix + jobID + jobEventsKeySuffix
	raw, err := s.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing audit entries for %s: %w", jobID, err)
	}
	out := make([][]byte, len(raw))
	for i, s := range raw {
		out[i] = []byte(s)
	}
	return out, nil
}

func (s *RedisStore) ReserveDedup(ctx context.Context, fingerprint, jobID string, ttl time.Duration) (bool, string, error) {
	key := dedupKeyPrefix + fingerprint
	ok, err := s.client.SetNX(ctx, key, jobID, ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("reserving dedup key %s: %w", fingerprint, err)
	}
	if ok {
		return true, "", nil
	}
	existing, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// key expired between SetNX and Get; treat as a fresh race loss,
			// the caller can retry the submission.
			return false, "", nil
		}
		return false, "", fmt.Errorf("reading existing dedup key %s: %w", fingerprint, err)
	}
	return false, existing, nil
}

func (s *RedisStore) ReleaseDedup(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, dedupKeyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("releasing dedup key %s: %w", fingerprint, err)
	}
	return nil
}

func (s *RedisStore) RefreshDedup(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, dedupKeyPrefix+fingerprint, ttl).Err(); err != nil {
		return fmt.Errorf("refreshing dedup key %s: %w", fingerprint, err)
	}
	return nil
}

func (s *RedisStore) GetCheckpoint(ctx context.Context, jobID string) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, checkpointKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting checkpoint %s: %w", jobID, err)
	}
	var c Checkpoint
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", jobID, err)
	}
	return &c, nil
}

func (s *RedisStore) PutCheckpoint(ctx context.Context, c *Checkpoint) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding checkpoint %s: %w", c.JobID, err)
	}
	if err := s.client.Set(ctx, checkpointKeyPrefix+c.JobID, raw, 0).Err(); err != nil {
		return fmt.Errorf("putting checkpoint %s: %w", c.JobID, err)
	}
	return nil
}

func (s *RedisStore) DeleteCheckpoint(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, checkpointKeyPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("deleting checkpoint %s: %w", jobID, err)
	}
	return nil
}
