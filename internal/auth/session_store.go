package auth

import (
	"context"
	"sync"

	"github.com/hrdesk/pbac/pkg/types"
)

// SessionStore persists sessions keyed by token
type SessionStore interface {
	// Create stores a new session
	Create(ctx context.Context, session *types.Session) error

	// GetByToken returns the session for token or ErrSessionNotFound.
	// Expired sessions may still be returned; callers check expiry.
	GetByToken(ctx context.Context, token string) (*types.Session, error)

	// Delete removes the session for token. A missing session is not an
	// error.
	Delete(ctx context.Context, token string) error
}

// MemorySessionStore is an in-memory SessionStore for tests and development
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]types.Session
}

// NewMemorySessionStore creates an empty session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]types.Session)}
}

// Create implements SessionStore
func (s *MemorySessionStore) Create(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = *session
	return nil
}

// GetByToken implements SessionStore
func (s *MemorySessionStore) GetByToken(ctx context.Context, token string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// Delete implements SessionStore
func (s *MemorySessionStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Len returns the number of stored sessions
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
