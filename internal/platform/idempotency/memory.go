package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. Suitable for a single instance and for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.ID()
	if existing, ok := s.entries[id]; ok && !existing.expired(now) {
		return resolve(existing, key)
	}
	entry := newInFlight(key, now, effectiveTTL(ttl))
	s.entries[id] = entry
	return Claim{Outcome: Acquired, Entry: entry}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.ID()
	entry, ok := s.entries[id]
	if ok && entry.Fingerprint != key.Fingerprint {
		return ErrKeyReused
	}
	if !ok {
		entry = newInFlight(key, now, 0)
	}
	entry.State = StateDone
	entry.Response = Response{
		Status:  resp.Status,
		Headers: replayableHeaders(resp.Headers),
		Body:    append([]byte(nil), resp.Body...),
	}
	entry.ExpiresAt = now.Add(effectiveTTL(ttl))
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key.ID()]; ok && entry.Fingerprint == key.Fingerprint {
		delete(s.entries, key.ID())
	}
	return nil
}

// Purge drops expired entries, oldest expiry first.
func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, entry := range s.entries {
		if entry.expired(now) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return s.entries[expired[i]].ExpiresAt.Before(s.entries[expired[j]].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, id := range expired {
		delete(s.entries, id)
	}
	return len(expired), nil
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
