package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdesk/pbac/pkg/types"
)

func newMiniredisStore(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIndentity: true})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionStore(client), mr
}

func TestRedisSessionStore_RoundTrip(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	session := &types.Session{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Token:     "tok-1",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Create(ctx, session))

	assert.True(t, mr.Exists("session:tok-1"))
	ttl := mr.TTL("session:tok-1")
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	got, err := store.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, session.UserID, got.UserID)
	assert.True(t, session.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Delete(ctx, "tok-1"))
	_, err = store.GetByToken(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, store.Delete(ctx, "tok-1"))
}

func TestRedisSessionStore_KeyExpires(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	session := &types.Session{ID: uuid.New(), UserID: uuid.New(), Token: "short", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, store.Create(ctx, session))

	mr.FastForward(2 * time.Minute)
	_, err := store.GetByToken(ctx, "short")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStore_SkipsExpiredSessions(t *testing.T) {
	store, mr := newMiniredisStore(t)

	session := &types.Session{Token: "old", ExpiresAt: time.Now().Add(-time.Second)}
	require.NoError(t, store.Create(context.Background(), session))
	assert.False(t, mr.Exists("session:old"))
}

func TestRedisSessionStore_Errors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisSessionStore(client)
	ctx := context.Background()

	mock.ExpectGet("session:tok").SetErr(errors.New("connection refused"))
	_, err := store.GetByToken(ctx, "tok")
	assert.ErrorIs(t, err, types.ErrStorage)

	mock.ExpectGet("session:bad").SetVal("{not json")
	_, err = store.GetByToken(ctx, "bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)

	mock.ExpectDel("session:tok").SetErr(errors.New("connection refused"))
	assert.ErrorIs(t, store.Delete(ctx, "tok"), types.ErrStorage)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSessionStore_WriteFailure(t *testing.T) {
	store, mr := newMiniredisStore(t)
	mr.SetError("READONLY You can't write against a read only replica.")

	session := &types.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	assert.ErrorIs(t, store.Create(context.Background(), session), types.ErrStorage)
}
