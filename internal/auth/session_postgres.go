package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hrdesk/pbac/pkg/types"
)

// PostgresSessionStore implements SessionStore using PostgreSQL
type PostgresSessionStore struct {
	db *sql.DB
}

// NewPostgresSessionStore creates a new PostgreSQL-backed session store
func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// Create implements SessionStore
func (s *PostgresSessionStore) Create(ctx context.Context, session *types.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Token,
		session.ExpiresAt,
		session.CreatedAt,
	)
	return types.NewStorageError("create session", err)
}

// GetByToken implements SessionStore
func (s *PostgresSessionStore) GetByToken(ctx context.Context, token string) (*types.Session, error) {
	query := `
		SELECT id, user_id, token, expires_at, created_at
		FROM sessions
		WHERE token = $1
	`

	session := &types.Session{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&session.ID,
		&session.UserID,
		&session.Token,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, types.NewStorageError("get session", err)
	}
	return session, nil
}

// Delete implements SessionStore
func (s *PostgresSessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = $1", token)
	return types.NewStorageError("delete session", err)
}
