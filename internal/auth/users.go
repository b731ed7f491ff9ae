package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hrdesk/pbac/pkg/types"
)

// UserReader is the read-only view of accounts and roles the resolver needs
type UserReader interface {
	// GetUser returns the user with id or ErrUserNotFound
	GetUser(ctx context.Context, id uuid.UUID) (*types.User, error)

	// FindByIdentifier returns the user whose username or email equals
	// identifier, or ErrUserNotFound
	FindByIdentifier(ctx context.Context, identifier string) (*types.User, error)

	// GetRole returns the role with id or types.ErrNotFound
	GetRole(ctx context.Context, id uuid.UUID) (*types.Role, error)
}

// MemoryUserStore is an in-memory UserReader for tests and development
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]types.User
	roles map[uuid.UUID]types.Role
}

// NewMemoryUserStore creates an empty user store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users: make(map[uuid.UUID]types.User),
		roles: make(map[uuid.UUID]types.Role),
	}
}

// AddRole registers a role, assigning an id when missing
func (s *MemoryUserStore) AddRole(role types.Role) *types.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	s.roles[role.ID] = role
	return &role
}

// AddUser registers a user, assigning an id when missing
func (s *MemoryUserStore) AddUser(user types.User) *types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.ID] = user
	return &user
}

// GetUser implements UserReader
func (s *MemoryUserStore) GetUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// FindByIdentifier implements UserReader
func (s *MemoryUserStore) FindByIdentifier(ctx context.Context, identifier string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == identifier || strings.EqualFold(u.Email, identifier) {
			out := u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetRole implements UserReader
func (s *MemoryUserStore) GetRole(ctx context.Context, id uuid.UUID) (*types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &r, nil
}
