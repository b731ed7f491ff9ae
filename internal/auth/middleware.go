package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hrdesk/pbac/pkg/types"
)

// SessionCookieName is the cookie carrying the session token
const SessionCookieName = "session_token"

// IdentityResolver resolves session tokens
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*types.Identity, error)
}

// Middleware provides session authentication middleware
type Middleware struct {
	resolver IdentityResolver
	logger   *zap.Logger
	optional bool // If true, don't reject requests without a session
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(resolver IdentityResolver, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		resolver: resolver,
		logger:   logger,
	}
}

// NewOptionalMiddleware creates middleware that doesn't require authentication
func NewOptionalMiddleware(resolver IdentityResolver, logger *zap.Logger) *Middleware {
	m := NewMiddleware(resolver, logger)
	m.optional = true
	return m
}

// Handler returns an HTTP middleware handler that stores the resolved
// identity in the request context
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := TokenFromRequest(r)
		if err != nil {
			if !m.optional {
				m.respondUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.resolver.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, types.ErrUnauthenticated) {
				m.logger.Error("Session lookup failed",
					zap.Error(err),
					zap.String("path", r.URL.Path),
				)
				m.respond(w, http.StatusInternalServerError, "internal_error", "session lookup failed")
				return
			}
			m.logger.Debug("Session rejected",
				zap.Error(err),
				zap.String("path", r.URL.Path),
			)
			if !m.optional {
				m.respondUnauthorized(w, "invalid or expired session")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := types.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest extracts the session token from the session cookie or,
// failing that, from an "Authorization: Bearer" header
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("authorization header must use Bearer scheme")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// SetSessionCookie writes the session cookie for token
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// respondUnauthorized sends a 401 Unauthorized response
func (m *Middleware) respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	m.respond(w, http.StatusUnauthorized, "unauthorized", message)
}

func (m *Middleware) respond(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"message":%q}`, code, message)
}

// GetIdentity extracts the identity from a request context
func GetIdentity(ctx context.Context) (*types.Identity, error) {
	identity, ok := types.IdentityFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no identity in context")
	}
	return identity, nil
}
