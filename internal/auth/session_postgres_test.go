package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdesk/pbac/pkg/types"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return conn, mock
}

var sessionCols = []string{"id", "user_id", "token", "expires_at", "created_at"}

func TestPostgresSessionStore_Create(t *testing.T) {
	conn, mock := newMockDB(t)
	store := NewPostgresSessionStore(conn)

	now := time.Now().UTC()
	session := &types.Session{ID: uuid.New(), UserID: uuid.New(), Token: "tok", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(session.ID, session.UserID, "tok", session.ExpiresAt, session.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Create(context.Background(), session))
}

func TestPostgresSessionStore_GetByToken(t *testing.T) {
	conn, mock := newMockDB(t)
	store := NewPostgresSessionStore(conn)
	ctx := context.Background()

	id, userID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, user_id, token, expires_at, created_at FROM sessions WHERE token").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow(id.String(), userID.String(), "tok", now.Add(time.Hour), now))

	got, err := store.GetByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, userID, got.UserID)

	mock.ExpectQuery("FROM sessions").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = store.GetByToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	mock.ExpectQuery("FROM sessions").WithArgs("boom").WillReturnError(errors.New("connection reset"))
	_, err = store.GetByToken(ctx, "boom")
	assert.ErrorIs(t, err, types.ErrStorage)
}

func TestPostgresSessionStore_Delete(t *testing.T) {
	conn, mock := newMockDB(t)
	store := NewPostgresSessionStore(conn)

	mock.ExpectExec("DELETE FROM sessions WHERE token").WithArgs("tok").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.NoError(t, store.Delete(context.Background(), "tok"))
}

func TestPostgresUserStore(t *testing.T) {
	conn, mock := newMockDB(t)
	store := NewPostgresUserStore(conn)
	ctx := context.Background()

	userCols := []string{"id", "username", "email", "full_name", "role_id", "password_hash", "created_at"}
	userID, roleID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM users WHERE username = \\$1 OR LOWER\\(email\\) = LOWER\\(\\$1\\)").
		WithArgs("m.jones@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(userID.String(), "m.jones", "m.jones@example.com", "Morgan Jones", roleID.String(), "$2a$hash", now))
	u, err := store.FindByIdentifier(ctx, "m.jones@example.com")
	require.NoError(t, err)
	assert.Equal(t, "m.jones", u.Username)
	require.NotNil(t, u.RoleID)
	assert.Equal(t, roleID, *u.RoleID)

	mock.ExpectQuery("FROM users WHERE id").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(userID.String(), "m.jones", "m.jones@example.com", "Morgan Jones", nil, "$2a$hash", now))
	u, err = store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, u.RoleID)

	mock.ExpectQuery("FROM users WHERE id").WithArgs(userID).WillReturnError(sql.ErrNoRows)
	_, err = store.GetUser(ctx, userID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	mock.ExpectQuery("FROM roles WHERE id").
		WithArgs(roleID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "level", "description", "created_at"}).AddRow(roleID.String(), "manager", 5, nil, now))
	r, err := store.GetRole(ctx, roleID)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Level)

	mock.ExpectQuery("FROM roles WHERE id").WithArgs(roleID).WillReturnError(sql.ErrNoRows)
	_, err = store.GetRole(ctx, roleID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}
