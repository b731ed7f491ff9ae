package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hrdesk/pbac/pkg/types"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into dst, answering 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return true
}

// pathUUID parses a uuid path variable, answering 400 on failure
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		WriteError(w, http.StatusBadRequest, name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// require checks that the caller may perform action on resource. It answers
// 403 on deny and 500 when the decision could not be made.
func (s *Server) require(w http.ResponseWriter, r *http.Request, action, resource string) (*types.Identity, bool) {
	identity, ok := types.IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "authentication required", nil)
		return nil, false
	}

	decision, err := s.engine.Authorize(r.Context(), identity, action, resource, types.NewAuthContext())
	if err != nil {
		s.writeServiceError(w, r, "authorize", err)
		return nil, false
	}
	if !decision.Allowed {
		s.logger.Debug("Request denied",
			zap.String("username", identity.User.Username),
			zap.String("action", action),
			zap.String("resource", resource),
			zap.String("reason", decision.Reason),
		)
		WriteError(w, http.StatusForbidden, decision.Reason, map[string]interface{}{
			"action":   action,
			"resource": resource,
		})
		return nil, false
	}
	return identity, true
}

// requireEditor additionally checks the editor permissions of a policy
func (s *Server) requireEditor(w http.ResponseWriter, r *http.Request, identity *types.Identity, policyID uuid.UUID) bool {
	if err := s.gate.RequireEdit(r.Context(), identity, policyID); err != nil {
		if errors.Is(err, types.ErrForbidden) {
			WriteError(w, http.StatusForbidden, "role level may not edit this policy", map[string]interface{}{
				"policy_id": policyID.String(),
			})
			return false
		}
		s.writeServiceError(w, r, "editor_gate", err)
		return false
	}
	return true
}
