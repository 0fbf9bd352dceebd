package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. It backs the in-memory deployment and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Claim(_ context.Context, key Key, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.ID()
	existing, ok := s.records[id]
	if !ok || existing.expired(now) {
		record := pendingRecord(key, now, ttl)
		s.records[id] = record
		return OutcomeProceed, record, nil
	}
	outcome, err := outcomeFor(existing, key)
	return outcome, existing, err
}

func (s *MemoryStore) Complete(_ context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.ID()
	var prev *Record
	if existing, ok := s.records[id]; ok && !existing.expired(now) {
		prev = &existing
	}
	record, err := completedRecord(prev, key, resp, now, ttl)
	if err != nil {
		return err
	}
	s.records[id] = record
	return nil
}

// Abandon drops a pending claim so the client can retry. Completed responses are kept.
func (s *MemoryStore) Abandon(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.ID()
	if existing, ok := s.records[id]; ok && existing.State == StatePending && existing.Fingerprint == key.Fingerprint {
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
