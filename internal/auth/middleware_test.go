package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdesk/pbac/pkg/types"
)

func setupTestMiddleware(t *testing.T) (*Middleware, *resolverFixture, string) {
	f := newResolverFixture(t)
	session, err := f.resolver.Login(context.Background(), "m.jones", "s3cret-pass")
	require.NoError(t, err)
	return NewMiddleware(f.resolver, nil), f, session.Token
}

func whoAmI(w http.ResponseWriter, r *http.Request) {
	identity, err := GetIdentity(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("anonymous"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(identity.User.Username))
}

func TestMiddlewareHandler(t *testing.T) {
	middleware, _, token := setupTestMiddleware(t)
	handler := middleware.Handler(http.HandlerFunc(whoAmI))

	t.Run("bearer token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "m.jones", w.Body.String())
	})

	t.Run("session cookie", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "m.jones", w.Body.String())
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "unauthorized")
	})

	t.Run("missing Bearer scheme", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Basic "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Bearer")
	})

	t.Run("unknown token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+strings.Repeat("x", TokenLength))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOptionalMiddleware(t *testing.T) {
	_, f, token := setupTestMiddleware(t)
	handler := NewOptionalMiddleware(f.resolver, nil).Handler(http.HandlerFunc(whoAmI))

	for name, header := range map[string]string{
		"valid token": "Bearer " + token,
		"no token":    "",
		"bad token":   "Bearer nope",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			if name == "valid token" {
				assert.Equal(t, "m.jones", w.Body.String())
			} else {
				assert.Equal(t, "anonymous", w.Body.String())
			}
		})
	}
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (*types.Identity, error) {
	return nil, types.NewStorageError("get session", errors.New("timeout"))
}

func TestMiddlewareStorageFailure(t *testing.T) {
	handler := NewOptionalMiddleware(failingResolver{}, nil).Handler(http.HandlerFunc(whoAmI))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionCookies(t *testing.T) {
	w := httptest.NewRecorder()
	SetSessionCookie(w, "abc", 7*24*time.Hour, false)
	assert.Equal(t, "session_token=abc; Path=/; Max-Age=604800; HttpOnly; SameSite=Lax", w.Header().Get("Set-Cookie"))

	w = httptest.NewRecorder()
	ClearSessionCookie(w, false)
	assert.Equal(t, "session_token=; Path=/; Max-Age=0; HttpOnly; SameSite=Lax", w.Header().Get("Set-Cookie"))
}
