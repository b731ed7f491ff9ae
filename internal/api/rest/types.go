package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hrdesk/pbac/pkg/types"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code,omitempty"`
}

// LoginRequest carries a username or email and a password
type LoginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful login. The token is also set as
// the session cookie.
type LoginResponse struct {
	Message   string     `json:"message"`
	User      types.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// UpdatePolicyRequest replaces the content of a policy
type UpdatePolicyRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// PolicyListResponse is a page of policies
type PolicyListResponse struct {
	Policies   []types.PolicySummary `json:"policies"`
	Total      int                   `json:"total"`
	Offset     int                   `json:"offset"`
	Limit      int                   `json:"limit"`
	NextOffset *int                  `json:"next_offset,omitempty"`
}

// BindRequest attaches a policy to a role or user
type BindRequest struct {
	SubjectType types.SubjectType `json:"subject_type"`
	SubjectID   uuid.UUID         `json:"subject_id"`
}

// GrantEditorRequest delegates editing to a role level
type GrantEditorRequest struct {
	RoleLevel *int `json:"role_level"`
}

// AuthorizeRequest checks an action for the calling identity
type AuthorizeRequest struct {
	Action   string             `json:"action"`
	Resource string             `json:"resource"`
	Context  *types.AuthContext `json:"context,omitempty"`
}

// SimulateRequest checks an action for another user. Without UserID the
// caller's own identity is used.
type SimulateRequest struct {
	UserID   *uuid.UUID         `json:"user_id,omitempty"`
	Action   string             `json:"action"`
	Resource string             `json:"resource"`
	Context  *types.AuthContext `json:"context,omitempty"`
}

// HealthResponse reports service health
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		return json.NewEncoder(w).Encode(data)
	}
	return nil
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	_ = WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Details: details,
		Code:    codeFor(statusCode),
	})
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}
