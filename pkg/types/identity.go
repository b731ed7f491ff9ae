package types

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is the read-model of an account. RoleID is nil for roleless accounts.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	RoleID       *uuid.UUID `json:"role_id,omitempty"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Identity is a verified user and its role assignment
type Identity struct {
	User User  `json:"user"`
	Role *Role `json:"role,omitempty"`
}

// RoleID returns the role id of the identity or nil
func (i *Identity) RoleID() *uuid.UUID {
	if i.Role != nil {
		id := i.Role.ID
		return &id
	}
	return i.User.RoleID
}

// HasRole reports whether the identity carries a role
func (i *Identity) HasRole() bool {
	return i.Role != nil
}

// ToMap converts the identity to a map for CEL evaluation
func (i *Identity) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":         i.User.ID.String(),
		"username":   i.User.Username,
		"email":      i.User.Email,
		"role_id":    "",
		"role_name":  "",
		"role_level": int64(-1),
	}
	if i.Role != nil {
		m["role_id"] = i.Role.ID.String()
		m["role_name"] = i.Role.Name
		m["role_level"] = int64(i.Role.Level)
	}
	return m
}

// Session binds an opaque token to a user until ExpiresAt
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the session is still usable at now. There is no
// grace window: a session expiring exactly at now is invalid.
func (s *Session) Valid(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// AuthContext carries request attributes available to rule conditions
type AuthContext struct {
	Department      *string                `json:"department,omitempty"`
	Location        *string                `json:"location,omitempty"`
	Time            time.Time              `json:"time"`
	ResourceOwnerID *uuid.UUID             `json:"resource_owner_id,omitempty"`
	Attributes      map[string]interface{} `json:"attributes,omitempty"`
}

// NewAuthContext returns a context stamped with the current time
func NewAuthContext() AuthContext {
	return AuthContext{Time: time.Now().UTC()}
}

// ToMap converts the context to a map for CEL evaluation
func (c *AuthContext) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"department":        "",
		"location":          "",
		"time":              c.Time.UTC().Format(time.RFC3339),
		"hour":              int64(c.Time.UTC().Hour()),
		"resource_owner_id": "",
		"attributes":        map[string]interface{}{},
	}
	if c.Department != nil {
		m["department"] = *c.Department
	}
	if c.Location != nil {
		m["location"] = *c.Location
	}
	if c.ResourceOwnerID != nil {
		m["resource_owner_id"] = c.ResourceOwnerID.String()
	}
	if c.Attributes != nil {
		m["attributes"] = c.Attributes
	}
	return m
}

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed  bool       `json:"allowed"`
	Reason   string     `json:"reason"`
	PolicyID *uuid.UUID `json:"policy_id,omitempty"`
}

// ReasonDefaultDeny is reported when no rule matched
const ReasonDefaultDeny = "default deny"

type identityKey struct{}

// ContextWithIdentity returns a copy of ctx carrying the identity
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored in ctx, if any
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
