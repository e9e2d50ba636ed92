package marketplace

import (
	"sync"
	"time"
)

// pendingAuth captures the PKCE verifier for one outstanding authorization
// attempt, keyed by its state value.
type pendingAuth struct {
	CodeVerifier string
	CreatedAt    time.Time
}

// stateStore is a bounded in-memory store for state -> pendingAuth. Entries
// expire after ttl; expired entries are rejected on read as well as removed by
// the periodic sweep, and the oldest entry is evicted when capacity is hit.
type stateStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	cap   int
	items map[string]pendingAuth
}

func newStateStore(ttl time.Duration, capacity int) *stateStore {
	return &stateStore{
		ttl:   ttl,
		cap:   capacity,
		items: make(map[string]pendingAuth),
	}
}

func (s *stateStore) save(state string, auth pendingAuth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.cap {
		s.evictOldestLocked()
	}
	s.items[state] = auth
}

// pop removes and returns the entry for state. Consumed entries are single
// use; entries past ttl are treated as absent.
func (s *stateStore) pop(state string) (pendingAuth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[state]
	if !ok {
		return pendingAuth{}, false
	}
	delete(s.items, state)
	if time.Since(value.CreatedAt) > s.ttl {
		return pendingAuth{}, false
	}
	return value, true
}

// sweep deletes all entries older than ttl and returns how many were removed.
func (s *stateStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.ttl)
	removed := 0
	for key, value := range s.items {
		if value.CreatedAt.Before(cutoff) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

func (s *stateStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *stateStore) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, value := range s.items {
		if oldestKey == "" || value.CreatedAt.Before(oldest) {
			oldestKey = key
			oldest = value.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(s.items, oldestKey)
	}
}
