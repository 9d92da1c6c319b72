package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and local development.
// Records are copied on the way in and out, so callers can't mutate shared
// state behind the lock.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get retrieves the current record for a key.
func (s *MemoryStore) Get(ctx context.Context, sessionKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := s.records[sessionKey]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := rec
	return &out, nil
}

// Put writes a record unconditionally.
func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.records[rec.SessionKey] = *rec
	return nil
}

// PutIf writes a record only if the stored version matches expectedVersion.
func (s *MemoryStore) PutIf(ctx context.Context, rec *Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	current, ok := s.records[rec.SessionKey]
	switch {
	case !ok && expectedVersion != 0:
		return ErrVersionConflict
	case ok && current.Version != expectedVersion:
		return ErrVersionConflict
	}

	s.records[rec.SessionKey] = *rec
	return nil
}

// Touch updates only LastActivity on the current record.
func (s *MemoryStore) Touch(ctx context.Context, sessionKey string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	rec, ok := s.records[sessionKey]
	if !ok {
		return ErrRecordNotFound
	}
	rec.LastActivity = now
	s.records[sessionKey] = rec
	return nil
}

// Close marks the store closed. Subsequent operations fail with
// ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of stored records, archived versions included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
