package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hrdesk/pbac/internal/metrics"
	"github.com/hrdesk/pbac/internal/notify"
	"github.com/hrdesk/pbac/pkg/types"
)

// DefaultSessionTTL is the lifetime of a new session
const DefaultSessionTTL = 7 * 24 * time.Hour

// Config configures session handling
type Config struct {
	// SessionTTL is the lifetime of a new session
	SessionTTL time.Duration `yaml:"ttl"`
	// Store selects the session backend: postgres, redis or memory
	Store string `yaml:"store"`
	// CookieSecure adds the Secure attribute to the session cookie
	CookieSecure bool `yaml:"cookie_secure"`
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{SessionTTL: DefaultSessionTTL, Store: "postgres"}
}

// Resolver turns session tokens into identities and credentials into
// sessions
type Resolver struct {
	sessions  SessionStore
	users     UserReader
	ttl       time.Duration
	publisher notify.Publisher
	metrics   metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewResolver creates a resolver. publisher, m and logger may be nil.
func NewResolver(sessions SessionStore, users UserReader, cfg Config, publisher notify.Publisher, m metrics.Metrics, logger *zap.Logger) *Resolver {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		sessions:  sessions,
		users:     users,
		ttl:       cfg.SessionTTL,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// SessionTTL returns the lifetime given to new sessions
func (r *Resolver) SessionTTL() time.Duration {
	return r.ttl
}

// Resolve returns the identity owning token. Unknown and expired tokens
// yield ErrUnauthenticated; storage failures are returned as such.
func (r *Resolver) Resolve(ctx context.Context, token string) (*types.Identity, error) {
	identity, err := r.resolve(ctx, token)
	switch {
	case err == nil:
		r.metrics.RecordSessionResolve("ok")
	case errors.Is(err, types.ErrUnauthenticated):
		r.metrics.RecordSessionResolve("unauthenticated")
	default:
		r.metrics.RecordSessionResolve("error")
	}
	return identity, err
}

func (r *Resolver) resolve(ctx context.Context, token string) (*types.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: %v", types.ErrUnauthenticated, ErrMissingToken)
	}

	session, err := r.sessions.GetByToken(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: unknown session", types.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	if !session.Valid(r.now()) {
		return nil, fmt.Errorf("%w: session expired", types.ErrUnauthenticated)
	}

	user, err := r.users.GetUser(ctx, session.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("%w: session user no longer exists", types.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}

	identity := &types.Identity{User: *user}
	if user.RoleID != nil {
		role, err := r.users.GetRole(ctx, *user.RoleID)
		switch {
		case err == nil:
			identity.Role = role
		case errors.Is(err, types.ErrNotFound):
			r.logger.Warn("User references a missing role",
				zap.String("user_id", user.ID.String()),
				zap.String("role_id", user.RoleID.String()),
			)
		default:
			return nil, err
		}
	}
	return identity, nil
}

// Login authenticates identifier (a username or an email) and password and
// creates a new session
func (r *Resolver) Login(ctx context.Context, identifier, password string) (*types.Session, error) {
	session, err := r.login(ctx, identifier, password)
	switch {
	case err == nil:
		r.metrics.RecordLogin("ok")
	case errors.Is(err, types.ErrUnauthenticated):
		r.metrics.RecordLogin("rejected")
	default:
		r.metrics.RecordLogin("error")
	}
	return session, err
}

func (r *Resolver) login(ctx context.Context, identifier, password string) (*types.Session, error) {
	if identifier == "" || password == "" {
		return nil, fmt.Errorf("%w: missing credentials", types.ErrUnauthenticated)
	}

	user, err := r.users.FindByIdentifier(ctx, identifier)
	if errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("%w: invalid credentials", types.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, fmt.Errorf("%w: invalid credentials", types.ErrUnauthenticated)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	session := &types.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	}
	if err := r.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	r.logger.Info("Session created", zap.String("username", user.Username))
	r.publisher.Publish(notify.Event{
		Type:    notify.EventSessionCreated,
		Message: fmt.Sprintf("%s signed in", user.Username),
		Payload: map[string]interface{}{"user_id": user.ID.String(), "username": user.Username},
	})
	return session, nil
}

// Logout deletes the session for token. Unknown tokens are ignored.
func (r *Resolver) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := r.sessions.Delete(ctx, token); err != nil {
		return err
	}
	r.publisher.Publish(notify.Event{
		Type:    notify.EventSessionRevoked,
		Message: "session revoked",
	})
	return nil
}
