package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hrdesk/pbac/pkg/types"
)

// RedisSessionStore implements SessionStore on Redis.
// Key format: session:{token}
// Value: JSON-encoded session, expiring with the session
type RedisSessionStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client, now: time.Now}
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

// Create implements SessionStore. Sessions that have already expired are
// not stored.
func (s *RedisSessionStore) Create(ctx context.Context, session *types.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(session.Token), data, ttl).Err(); err != nil {
		return types.NewStorageError("create session", err)
	}
	return nil
}

// GetByToken implements SessionStore
func (s *RedisSessionStore) GetByToken(ctx context.Context, token string) (*types.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, types.NewStorageError("get session", err)
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Delete implements SessionStore
func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return types.NewStorageError("delete session", err)
	}
	return nil
}
