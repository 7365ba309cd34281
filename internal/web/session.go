package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const sessionCookieName = "mcpsetup_session"
const sessionDuration = 24 * time.Hour

// sessionStore holds login tokens in memory; a restart logs everyone out.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]time.Time
	now      func() time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]time.Time), now: time.Now}
}

func (s *sessionStore) create() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	s.mu.Lock()
	s.sessions[token] = s.now().Add(sessionDuration)
	s.mu.Unlock()
	return token, nil
}

// validate reports whether token is live and slides its expiry forward.
func (s *sessionStore) validate(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.sessions[token]
	if !ok {
		return false
	}
	now := s.now()
	if now.After(expires) {
		delete(s.sessions, token)
		return false
	}
	s.sessions[token] = now.Add(sessionDuration)
	return true
}

func (s *sessionStore) delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func (s *sessionStore) prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, expires := range s.sessions {
		if now.After(expires) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

func (s *sessionStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune()
		}
	}
}
