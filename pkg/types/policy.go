package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is immutable reference data. Lower Level means more privilege, level 0
// is the top administrator tier.
type Role struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Level       int       `json:"level"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Policy is a named, versioned set of rules with a lifecycle status
type Policy struct {
	ID             uuid.UUID    `json:"id"`
	PolicyNumber   int          `json:"policy_number"`
	Name           string       `json:"name"`
	Description    *string      `json:"description,omitempty"`
	Status         PolicyStatus `json:"status"`
	IsArchived     bool         `json:"is_archived"`
	CurrentVersion int          `json:"current_version"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IsDraft reports whether rules may still be changed
func (p *Policy) IsDraft() bool {
	return p.Status == StatusDraft
}

// Label returns a short human-facing reference to the policy
func (p *Policy) Label() string {
	return fmt.Sprintf("#%d %s", p.PolicyNumber, p.Name)
}

// PolicySummary is a policy together with its rule counts per effect
type PolicySummary struct {
	Policy
	AllowCount int `json:"allow_count"`
	DenyCount  int `json:"deny_count"`
}

// PolicyVersion is an append-only snapshot of policy content
type PolicyVersion struct {
	ID          uuid.UUID `json:"id"`
	PolicyID    uuid.UUID `json:"policy_id"`
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conditions is the structured data attached to a rule. Expression is a CEL
// expression that must evaluate to a bool; Attributes are static values
// exposed to the expression.
type Conditions struct {
	Expression string                 `json:"expression,omitempty" yaml:"expression,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Empty reports whether the conditions constrain nothing
func (c *Conditions) Empty() bool {
	return c == nil || (c.Expression == "" && len(c.Attributes) == 0)
}

// UnmarshalJSON accepts only the expression and attributes keys
func (c *Conditions) UnmarshalJSON(data []byte) error {
	type plain Conditions
	var out plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("%w: conditions: %v", ErrInvalidInput, err)
	}
	*c = Conditions(out)
	return nil
}

// Scan implements sql.Scanner for JSONB columns
func (c *Conditions) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = Conditions{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("conditions: unsupported type %T", src)
	}
	return json.Unmarshal(data, c)
}

// Value implements driver.Valuer. JSON is sent as text so the driver does
// not encode it as bytea.
func (c *Conditions) Value() (driver.Value, error) {
	if c.Empty() {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// PolicyRule grants or denies an action on a resource
type PolicyRule struct {
	ID         uuid.UUID   `json:"id"`
	PolicyID   uuid.UUID   `json:"policy_id"`
	Effect     Effect      `json:"effect"`
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Conditions *Conditions `json:"conditions,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Covers reports whether the rule's resource and action patterns match
func (r *PolicyRule) Covers(action, resource string) bool {
	return (r.Resource == Wildcard || r.Resource == resource) &&
		(r.Action == Wildcard || r.Action == action)
}

// PolicyBinding attaches a policy to a role or a user
type PolicyBinding struct {
	ID          uuid.UUID   `json:"id"`
	PolicyID    uuid.UUID   `json:"policy_id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   uuid.UUID   `json:"subject_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PolicyEditorPermission delegates edit rights on one policy to every role
// whose level is at most RoleLevel.
type PolicyEditorPermission struct {
	PolicyID  uuid.UUID `json:"policy_id"`
	RoleLevel int       `json:"role_level"`
	CreatedAt time.Time `json:"created_at"`
}

// Permits reports whether a role with the given level is covered
func (p *PolicyEditorPermission) Permits(level int) bool {
	return p.RoleLevel >= level
}

// CandidateRule is an active rule together with the policy it belongs to
type CandidateRule struct {
	Rule   PolicyRule
	Policy Policy
}
