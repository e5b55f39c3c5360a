package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in a process-local map. It backs unit tests and
// single-instance local runs; production uses the Firestore store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	record, ok := s.records[id]
	if !ok || expired(record, now) {
		record = Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		s.records[id] = record
		return OutcomeNew, record, nil
	}

	if record.Fingerprint != fingerprint {
		return 0, Record{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return OutcomeReplay, record, nil
	}
	return OutcomeInFlight, record, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok || record.CreatedAt.IsZero() {
		record.Key = key
		record.Fingerprint = fingerprint
		record.CreatedAt = now
	}

	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = storableHeaders(resp.Headers)
	record.ResponseBody = append([]byte(nil), resp.Body...)
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	s.records[id] = record
	return nil
}

func (s *MemoryStore) Forget(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, docID(key))
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = len(s.records)
	}
	removed := 0
	for id, record := range s.records {
		if removed >= limit {
			break
		}
		if expired(record, now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func expired(record Record, now time.Time) bool {
	return !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt)
}
