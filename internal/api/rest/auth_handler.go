package rest

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hrdesk/pbac/internal/auth"
	"github.com/hrdesk/pbac/pkg/types"
)

// loginHandler handles POST /v1/auth/login
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Identity = strings.TrimSpace(req.Identity)
	if req.Identity == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "identity and password are required", nil)
		return
	}

	session, err := s.resolver.Login(r.Context(), req.Identity, req.Password)
	if err != nil {
		if errors.Is(err, types.ErrUnauthenticated) {
			WriteError(w, http.StatusUnauthorized, "invalid credentials", nil)
			return
		}
		s.writeServiceError(w, r, "login", err)
		return
	}

	user, err := s.users.GetUser(r.Context(), session.UserID)
	if err != nil {
		s.writeServiceError(w, r, "login", err)
		return
	}

	auth.SetSessionCookie(w, session.Token, s.resolver.SessionTTL(), s.config.CookieSecure)
	WriteJSON(w, http.StatusOK, LoginResponse{
		Message:   "Login successful",
		User:      *user,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

// logoutHandler handles POST /v1/auth/logout. It succeeds without a session.
func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if token, err := auth.TokenFromRequest(r); err == nil {
		if err := s.resolver.Logout(r.Context(), token); err != nil {
			s.logger.Error("Logout failed", zap.Error(err))
			WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
			return
		}
	}

	auth.ClearSessionCookie(w, s.config.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// meHandler handles GET /v1/auth/me
func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, identity)
}
