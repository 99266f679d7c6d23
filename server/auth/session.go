// Package auth provides token-based session management for the HTTP API.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/loom/store"
)

// Session is an authenticated client session.
type Session struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore manages session lifetime. The backing is pluggable so
// expiry behavior is testable in isolation; the default is in-memory.
type SessionStore interface {
	Create(ctx context.Context) (*Session, error)
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}

type memorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionStore creates an in-memory session store with the
// given session lifetime.
func NewMemorySessionStore(ttl time.Duration) SessionStore {
	return &memorySessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *memorySessionStore) Create(_ context.Context) (*Session, error) {
	now := s.now()
	session := &Session{
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked(now)
	s.sessions[session.Token] = session
	return session, nil
}

func (s *memorySessionStore) Get(_ context.Context, token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, store.ErrNotFound
	}
	if s.now().After(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	return session, nil
}

func (s *memorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// purgeExpiredLocked drops expired sessions. Called opportunistically on
// create so the map does not grow unbounded; callers hold the write lock.
func (s *memorySessionStore) purgeExpiredLocked(now time.Time) {
	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}
