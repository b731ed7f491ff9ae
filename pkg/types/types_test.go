package types

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariants(t *testing.T) {
	e, err := ParseEffect(" Deny ")
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, e)

	_, err = ParseEffect("maybe")
	assert.ErrorIs(t, err, ErrInvalidVariant)

	s, err := ParsePolicyStatus("archived")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, s)

	_, err = ParsePolicyStatus("retired")
	assert.ErrorIs(t, err, ErrInvalidVariant)

	st, err := ParseSubjectType("USER")
	require.NoError(t, err)
	assert.Equal(t, SubjectUser, st)

	_, err = ParseSubjectType("group")
	assert.ErrorIs(t, err, ErrInvalidVariant)
}

func TestVariantJSONRejectsUnknown(t *testing.T) {
	var rule struct {
		Effect Effect `json:"effect"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"effect":"permit"}`), &rule))
	require.NoError(t, json.Unmarshal([]byte(`{"effect":"allow"}`), &rule))
	assert.Equal(t, EffectAllow, rule.Effect)
}

func TestStatusScan(t *testing.T) {
	var s PolicyStatus
	require.NoError(t, s.Scan([]byte("active")))
	assert.Equal(t, StatusActive, s)
	assert.Error(t, s.Scan(nil))
	assert.Error(t, s.Scan(42))
}

func TestRuleCovers(t *testing.T) {
	tests := []struct {
		name     string
		rule     PolicyRule
		action   string
		resource string
		want     bool
	}{
		{"exact", PolicyRule{Resource: "leave_request", Action: "read"}, "read", "leave_request", true},
		{"other action", PolicyRule{Resource: "leave_request", Action: "read"}, "approve", "leave_request", false},
		{"other resource", PolicyRule{Resource: "leave_request", Action: "read"}, "read", "payslip", false},
		{"wildcard action", PolicyRule{Resource: "payslip", Action: "*"}, "delete", "payslip", true},
		{"wildcard resource", PolicyRule{Resource: "*", Action: "read"}, "read", "report", true},
		{"wildcard both", PolicyRule{Resource: "*", Action: "*"}, "anything", "anywhere", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Covers(tt.action, tt.resource))
		})
	}
}

func TestSessionValid(t *testing.T) {
	now := time.Now()
	assert.True(t, (&Session{ExpiresAt: now.Add(time.Second)}).Valid(now))
	assert.False(t, (&Session{ExpiresAt: now}).Valid(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(-time.Second)}).Valid(now))
}

func TestEditorPermissionPermits(t *testing.T) {
	p := PolicyEditorPermission{RoleLevel: 5}
	assert.True(t, p.Permits(0))
	assert.True(t, p.Permits(5))
	assert.False(t, p.Permits(6))
}

func TestIdentityRoleID(t *testing.T) {
	roleID := uuid.New()
	id := Identity{User: User{ID: uuid.New()}}
	assert.Nil(t, id.RoleID())
	assert.False(t, id.HasRole())

	id.User.RoleID = &roleID
	assert.Equal(t, roleID, *id.RoleID())

	id.Role = &Role{ID: roleID, Name: "manager", Level: 5}
	m := id.ToMap()
	assert.Equal(t, int64(5), m["role_level"])
	assert.Equal(t, "manager", m["role_name"])
}

func TestConditionsValue(t *testing.T) {
	var c *Conditions
	v, err := c.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	c = &Conditions{Expression: "context.hour < 18"}
	v, err = c.Value()
	require.NoError(t, err)

	var back Conditions
	require.NoError(t, back.Scan(v))
	assert.Equal(t, "context.hour < 18", back.Expression)
}

func TestConditionsUnmarshalJSON(t *testing.T) {
	var c Conditions
	require.NoError(t, json.Unmarshal([]byte(`{"expression":"context.department == attributes.dept","attributes":{"dept":"HR"}}`), &c))
	assert.Equal(t, "context.department == attributes.dept", c.Expression)
	assert.Equal(t, "HR", c.Attributes["dept"])

	var rule struct {
		Conditions *Conditions `json:"conditions"`
	}
	err := json.Unmarshal([]byte(`{"conditions":{"department":"HR"}}`), &rule)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = json.Unmarshal([]byte(`{"conditions":"weekdays"}`), &rule)
	assert.ErrorIs(t, err, ErrInvalidInput)

	rule.Conditions = nil
	require.NoError(t, json.Unmarshal([]byte(`{"conditions":null}`), &rule))
	assert.Nil(t, rule.Conditions)
}

func TestStorageError(t *testing.T) {
	err := NewStorageError("list rules", io.ErrUnexpectedEOF)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Nil(t, NewStorageError("noop", nil))
}
