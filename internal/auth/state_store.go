package auth

import (
	"sync"
	"time"
)

// loginAttempt captures temporary data required to finish the OIDC code flow.
type loginAttempt struct {
	CodeVerifier string
	ReturnTo     string
	CreatedAt    time.Time
}

// stateStore is a simple in-memory store for OIDC state -> login data.
type stateStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]loginAttempt
}

func newStateStore(ttl time.Duration) *stateStore {
	return &stateStore{
		ttl:   ttl,
		items: make(map[string]loginAttempt),
	}
}

func (s *stateStore) save(state string, attempt loginAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	s.items[state] = attempt
}

func (s *stateStore) pop(state string) (loginAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	value, ok := s.items[state]
	if ok {
		delete(s.items, state)
	}
	return value, ok
}

func (s *stateStore) cleanupLocked() {
	if len(s.items) == 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl)
	for key, attempt := range s.items {
		if attempt.CreatedAt.Before(cutoff) {
			delete(s.items, key)
		}
	}
}
