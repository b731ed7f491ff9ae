// Package types provides shared types for the access control core
package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Effect represents the outcome a rule produces when it matches
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ParseEffect converts a string into an Effect
func ParseEffect(s string) (Effect, error) {
	switch Effect(strings.ToLower(strings.TrimSpace(s))) {
	case EffectAllow:
		return EffectAllow, nil
	case EffectDeny:
		return EffectDeny, nil
	}
	return "", fmt.Errorf("%w: effect %q", ErrInvalidVariant, s)
}

func (e Effect) String() string { return string(e) }

// UnmarshalJSON rejects unknown effects
func (e *Effect) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseEffect(s)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Scan implements sql.Scanner
func (e *Effect) Scan(src interface{}) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseEffect(s)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Value implements driver.Valuer
func (e Effect) Value() (driver.Value, error) {
	return string(e), nil
}

// PolicyStatus is the lifecycle stage of a policy
type PolicyStatus string

const (
	StatusDraft    PolicyStatus = "draft"
	StatusActive   PolicyStatus = "active"
	StatusArchived PolicyStatus = "archived"
)

// ParsePolicyStatus converts a string into a PolicyStatus
func ParsePolicyStatus(s string) (PolicyStatus, error) {
	switch PolicyStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusDraft:
		return StatusDraft, nil
	case StatusActive:
		return StatusActive, nil
	case StatusArchived:
		return StatusArchived, nil
	}
	return "", fmt.Errorf("%w: status %q", ErrInvalidVariant, s)
}

func (s PolicyStatus) String() string { return string(s) }

// UnmarshalJSON rejects unknown statuses
func (s *PolicyStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParsePolicyStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Scan implements sql.Scanner
func (s *PolicyStatus) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParsePolicyStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer
func (s PolicyStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// SubjectType identifies what a binding grants a policy to
type SubjectType string

const (
	SubjectRole SubjectType = "role"
	SubjectUser SubjectType = "user"
)

// ParseSubjectType converts a string into a SubjectType
func ParseSubjectType(s string) (SubjectType, error) {
	switch SubjectType(strings.ToLower(strings.TrimSpace(s))) {
	case SubjectRole:
		return SubjectRole, nil
	case SubjectUser:
		return SubjectUser, nil
	}
	return "", fmt.Errorf("%w: subject type %q", ErrInvalidVariant, s)
}

func (t SubjectType) String() string { return string(t) }

// UnmarshalJSON rejects unknown subject types
func (t *SubjectType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseSubjectType(raw)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Scan implements sql.Scanner
func (t *SubjectType) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseSubjectType(raw)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Value implements driver.Valuer
func (t SubjectType) Value() (driver.Value, error) {
	return string(t), nil
}

func scanString(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("%w: null value", ErrInvalidVariant)
	}
	return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidVariant, src)
}

// Wildcard matches any resource or action in a rule
const Wildcard = "*"
