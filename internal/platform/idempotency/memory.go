package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. Composition sessions live in
// the same process, so a replay never has to outlive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	id := entryID(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	result, write, err := claim(s.lookup(id), key, fingerprint, now.UTC(), ttl)
	if write != nil {
		s.entries[id] = *write
	}
	return result, err
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := entryID(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := finish(s.lookup(id), key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.entries[id] = entry
	return nil
}

// Release forgets key unless another request has claimed it since.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := entryID(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry := s.lookup(id); entry != nil && entry.Fingerprint == fingerprint {
		delete(s.entries, id)
	}
	return nil
}

// Sweep drops up to limit expired entries; limit <= 0 means all of them.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed == limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of held entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) lookup(id string) *Entry {
	entry, ok := s.entries[id]
	if !ok {
		return nil
	}
	return &entry
}
