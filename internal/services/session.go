package services

import (
	"sync"

	"github.com/tbourn/go-access-bot/internal/domain"
)

// SessionStore holds the conversation state of every subscriber for the
// lifetime of the process. Absent subscribers are idle; only awaiting
// entries are stored. It is safe for concurrent use.
type SessionStore struct {
	mu       sync.Mutex
	awaiting map[int64]struct{}
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{awaiting: make(map[int64]struct{})}
}

// State returns the current state of subscriber.
func (s *SessionStore) State(subscriber int64) domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.awaiting[subscriber]; ok {
		return domain.StateAwaitingIdentity
	}
	return domain.StateIdle
}

// Await moves subscriber to StateAwaitingIdentity.
func (s *SessionStore) Await(subscriber int64) {
	s.mu.Lock()
	s.awaiting[subscriber] = struct{}{}
	s.mu.Unlock()
}

// Reset moves subscriber back to StateIdle.
func (s *SessionStore) Reset(subscriber int64) {
	s.mu.Lock()
	delete(s.awaiting, subscriber)
	s.mu.Unlock()
}

// Len returns the number of subscribers currently awaiting an identity.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.awaiting)
}
