// Package policy provides policy storage and lifecycle management
package policy

import (
	"context"

	"github.com/google/uuid"

	"github.com/hrdesk/pbac/pkg/types"
)

// Store defines the policy storage interface. Implementations enforce the
// lifecycle invariants at write time: rule mutations require a Draft owner,
// content updates bump the version and append a snapshot atomically.
type Store interface {
	// ListRoles returns all roles ordered by level ascending
	ListRoles(ctx context.Context) ([]types.Role, error)

	// GetRole retrieves a role by id
	GetRole(ctx context.Context, id uuid.UUID) (*types.Role, error)

	// GetRoleByName retrieves a role by name
	GetRoleByName(ctx context.Context, name string) (*types.Role, error)

	// CreatePolicy inserts a Draft policy at version 1 with its first snapshot
	CreatePolicy(ctx context.Context, number int, name string, description *string) (*types.Policy, error)

	// GetPolicy retrieves a policy by id
	GetPolicy(ctx context.Context, id uuid.UUID) (*types.Policy, error)

	// GetPolicyByNumber retrieves a policy by its human-facing number
	GetPolicyByNumber(ctx context.Context, number int) (*types.Policy, error)

	// ListPolicies returns every policy ordered by number, with rule counts
	ListPolicies(ctx context.Context) ([]types.PolicySummary, error)

	// UpdatePolicyContent bumps the version and appends a snapshot. With
	// draftOnly set, non-Draft policies fail with ErrPolicyImmutable.
	UpdatePolicyContent(ctx context.Context, id uuid.UUID, name string, description *string, draftOnly bool) (*types.Policy, error)

	// ListVersions returns the snapshots of a policy in version order
	ListVersions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyVersion, error)

	// Activate moves a Draft policy to Active and returns rows affected
	Activate(ctx context.Context, id uuid.UUID) (int64, error)

	// Archive moves a policy in any status to Archived and returns rows affected
	Archive(ctx context.Context, id uuid.UUID) (int64, error)

	// DeletePolicy removes a policy with its rules, bindings and editor
	// permissions. Versions are retained.
	DeletePolicy(ctx context.Context, id uuid.UUID) (int64, error)

	// AddRule appends a rule to a Draft policy
	AddRule(ctx context.Context, rule types.PolicyRule) (*types.PolicyRule, error)

	// GetRule retrieves a rule by id
	GetRule(ctx context.Context, id uuid.UUID) (*types.PolicyRule, error)

	// RemoveRule deletes a rule of a Draft policy
	RemoveRule(ctx context.Context, ruleID uuid.UUID) error

	// ListRules returns the rules of a policy
	ListRules(ctx context.Context, policyID uuid.UUID) ([]types.PolicyRule, error)

	// Bind attaches a policy to a subject. On repeat it returns the existing
	// binding and created is false.
	Bind(ctx context.Context, policyID uuid.UUID, subjectType types.SubjectType, subjectID uuid.UUID) (b *types.PolicyBinding, created bool, err error)

	// Unbind deletes a binding and returns rows affected
	Unbind(ctx context.Context, bindingID uuid.UUID) (int64, error)

	// ListBindings returns the bindings of a policy
	ListBindings(ctx context.Context, policyID uuid.UUID) ([]types.PolicyBinding, error)

	// ListPoliciesForSubject returns policies bound to a subject
	ListPoliciesForSubject(ctx context.Context, subjectType types.SubjectType, subjectID uuid.UUID) ([]types.Policy, error)

	// GrantEditor records an editor permission, idempotently
	GrantEditor(ctx context.Context, policyID uuid.UUID, roleLevel int) (*types.PolicyEditorPermission, error)

	// RevokeEditor removes an editor permission and returns rows affected
	RevokeEditor(ctx context.Context, policyID uuid.UUID, roleLevel int) (int64, error)

	// ListEditorPermissions returns the editor permissions of a policy
	ListEditorPermissions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyEditorPermission, error)

	// ActiveRulesFor returns every rule of an Active policy bound to the user
	// directly or to roleID. roleID may be nil.
	ActiveRulesFor(ctx context.Context, userID uuid.UUID, roleID *uuid.UUID) ([]types.CandidateRule, error)
}
