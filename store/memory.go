package store

import (
	"context"
	"sync"
	"time"

	"github.com/opensubs-io/subsync/job"
)

// MemoryStore is an in-process Store fake for tests, built on the same
// mutex-protected map shape the teacher uses for its generic cache. It
// satisfies the full Store interface so pipeline logic can be tested
// without a running Redis instance.
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[string]*job.Record
	audit       map[string][][]byte
	dedup       map[string]dedupEntry
	checkpoints map[string]*Checkpoint
}

type dedupEntry struct {
	jobID     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*job.Record),
		audit:       make(map[string][][]byte),
		dedup:       make(map[string]dedupEntry),
		checkpoints: make(map[string]*Checkpoint),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	snap := r.Snapshot()
	return &snap, nil
}

func (s *MemoryStore) PutJob(ctx context.Context, r *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := r.Snapshot()
	s.jobs[r.JobID] = &snap
	return nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, jobID string, envelopeJSON []byte, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append([][]byte{envelopeJSON}, s.audit[jobID]...)
	if int64(len(entries)) > maxLen {
		entries = entries[:maxLen]
	}
	s.audit[jobID] = entries
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, jobID string, limit int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.audit[jobID]
	if int64(len(entries)) > limit {
		entries = entries[:limit]
	}
	out := make([][]byte, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) ReserveDedup(ctx context.Context, fingerprint, jobID string, ttl time.Duration) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.dedup[fingerprint]; ok && existing.expiresAt.After(now) {
		return false, existing.jobID, nil
	}
	s.dedup[fingerprint] = dedupEntry{jobID: jobID, expiresAt: now.Add(ttl)}
	return true, "", nil
}

func (s *MemoryStore) ReleaseDedup(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dedup, fingerprint)
	return nil
}

func (s *MemoryStore) RefreshDedup(ctx context.Context, fingerprint string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.dedup[fingerprint]
	if !ok {
		return nil
	}
	entry.expiresAt = time.Now().Add(ttl)
	s.dedup[fingerprint] = entry
	return nil
}

func (s *MemoryStore) GetCheckpoint(ctx context.Context, jobID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkpoints[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) PutCheckpoint(ctx context.Context, c *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.checkpoints[c.JobID] = &cp
	return nil
}

func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, jobID)
	return nil
}
