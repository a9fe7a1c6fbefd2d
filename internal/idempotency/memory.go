package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	outcome string
	expires time.Time
}

// MemoryStore is a process-local Store used as a fallback when Redis is
// not configured, and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory store. A non-positive ttl
// falls back to DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) HasProcessed(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return false, nil
	}
	if s.now().After(rec.expires) {
		delete(s.records, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) RecordProcessed(ctx context.Context, key, outcome string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = memoryRecord{outcome: outcome, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Outcome(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || s.now().After(rec.expires) {
		return "", ErrNotFound
	}
	return rec.outcome, nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
