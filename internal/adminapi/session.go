package adminapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionStore is an in-memory cookie-session store, adapted from the
// teacher's admin-bot in-memory userStates map (same
// mutex-guarded-map shape, repurposed from FSM state to auth sessions).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]session
	ttl      time.Duration
}

type session struct {
	userID    uint
	expiresAt time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{sessions: make(map[string]session), ttl: ttl}
}

func (s *sessionStore) create(userID uint) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = session{userID: userID, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return token
}

func (s *sessionStore) lookup(token string) (uint, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || time.Now().After(sess.expiresAt) {
		return 0, false
	}
	return sess.userID, true
}

func (s *sessionStore) destroy(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}
