package rest

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hrdesk/pbac/pkg/types"
)

// StatusFor maps a core error to an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, types.ErrPolicyImmutable):
		return http.StatusConflict
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrInvalidVariant):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and their text withheld from the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("op", op),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		WriteError(w, status, "Internal server error", nil)
		return
	}

	var details map[string]interface{}
	if errors.Is(err, types.ErrPolicyImmutable) {
		details = map[string]interface{}{"reason": "policy_immutable"}
	}
	WriteError(w, status, err.Error(), details)
}
