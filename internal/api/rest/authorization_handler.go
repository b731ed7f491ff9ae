package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hrdesk/pbac/internal/auth"
	"github.com/hrdesk/pbac/pkg/types"
)

func authContextOf(c *types.AuthContext) types.AuthContext {
	if c == nil {
		return types.NewAuthContext()
	}
	out := *c
	if out.Time.IsZero() {
		out.Time = time.Now().UTC()
	}
	return out
}

// authorizeHandler handles POST /v1/authorize. It answers for the calling
// identity; a deny is a successful answer, not a 403.
func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	var req AuthorizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.validCheck(w, req.Action, req.Resource) {
		return
	}

	decision, err := s.engine.Authorize(r.Context(), identity, req.Action, req.Resource, authContextOf(req.Context))
	if err != nil {
		s.writeServiceError(w, r, "authorize", err)
		return
	}
	WriteJSON(w, http.StatusOK, decision)
}

// simulateHandler handles POST /v1/simulate. Callers need ("simulate",
// "auth") and may evaluate the decision for any user.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.require(w, r, "simulate", "auth")
	if !ok {
		return
	}
	var req SimulateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.validCheck(w, req.Action, req.Resource) {
		return
	}

	subject := caller
	if req.UserID != nil && *req.UserID != caller.User.ID {
		var err error
		subject, err = s.loadIdentity(r, *req.UserID)
		if err != nil {
			s.writeServiceError(w, r, "simulate", err)
			return
		}
	}

	decision, err := s.engine.Authorize(r.Context(), subject, req.Action, req.Resource, authContextOf(req.Context))
	if err != nil {
		s.writeServiceError(w, r, "simulate", err)
		return
	}
	s.logger.Info("Authorization simulated",
		zap.String("caller", caller.User.Username),
		zap.String("subject", subject.User.Username),
		zap.String("action", req.Action),
		zap.String("resource", req.Resource),
		zap.Bool("allowed", decision.Allowed),
	)
	WriteJSON(w, http.StatusOK, decision)
}

func (s *Server) validCheck(w http.ResponseWriter, action, resource string) bool {
	if strings.TrimSpace(action) == "" || strings.TrimSpace(resource) == "" {
		WriteError(w, http.StatusBadRequest, "action and resource are required", nil)
		return false
	}
	return true
}

// loadIdentity builds the identity of a user the same way the resolver does
func (s *Server) loadIdentity(r *http.Request, userID uuid.UUID) (*types.Identity, error) {
	user, err := s.users.GetUser(r.Context(), userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	identity := &types.Identity{User: *user}
	if user.RoleID != nil {
		role, err := s.users.GetRole(r.Context(), *user.RoleID)
		switch {
		case err == nil:
			identity.Role = role
		case !errors.Is(err, types.ErrNotFound):
			return nil, err
		}
	}
	return identity, nil
}
