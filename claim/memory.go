package claim

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory map with expiry.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory claim store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		claims: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Claim implements Store.
// Expired claims are evicted lazily while the lock is held.
func (s *MemoryStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.claims {
		if !now.Before(exp) {
			delete(s.claims, k)
		}
	}

	if _, held := s.claims[key]; held {
		return false, nil
	}
	s.claims[key] = now.Add(s.ttl)
	return true, nil
}

// Release implements Store.
func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.claims = make(map[string]time.Time)
	return nil
}

var _ Store = (*MemoryStore)(nil)
