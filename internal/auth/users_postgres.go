package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hrdesk/pbac/pkg/types"
)

const userColumns = "id, username, email, full_name, role_id, password_hash, created_at"

// PostgresUserStore implements UserReader using PostgreSQL
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a new PostgreSQL-backed user reader
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) scanUser(row *sql.Row) (*types.User, error) {
	u := &types.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.RoleID, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, types.NewStorageError("get user", err)
	}
	return u, nil
}

// GetUser implements UserReader
func (s *PostgresUserStore) GetUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// FindByIdentifier implements UserReader. Emails compare case-insensitively.
func (s *PostgresUserStore) FindByIdentifier(ctx context.Context, identifier string) (*types.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1 OR LOWER(email) = LOWER($1) LIMIT 1", identifier))
}

// GetRole implements UserReader
func (s *PostgresUserStore) GetRole(ctx context.Context, id uuid.UUID) (*types.Role, error) {
	r := &types.Role{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, level, description, created_at FROM roles WHERE id = $1", id,
	).Scan(&r.ID, &r.Name, &r.Level, &r.Description, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, types.NewStorageError("get role", err)
	}
	return r, nil
}
