// Package editor decides who may change a policy's content
package editor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hrdesk/pbac/pkg/types"
)

// PermissionSource lists the editor permissions of a policy
type PermissionSource interface {
	ListEditorPermissions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyEditorPermission, error)
}

// Gate checks editor permissions. Level 0 (the top role) may always edit;
// any other role needs a permission granted at its own level or at a
// numerically higher one.
type Gate struct {
	perms PermissionSource
}

// NewGate creates a gate over perms
func NewGate(perms PermissionSource) *Gate {
	return &Gate{perms: perms}
}

// CanEdit reports whether identity may edit the policy. Roleless identities
// never may. Storage failures are returned.
func (g *Gate) CanEdit(ctx context.Context, identity *types.Identity, policyID uuid.UUID) (bool, error) {
	if identity == nil || identity.Role == nil {
		return false, nil
	}
	level := identity.Role.Level
	if level == 0 {
		return true, nil
	}

	perms, err := g.perms.ListEditorPermissions(ctx, policyID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.PolicyID == policyID && p.Permits(level) {
			return true, nil
		}
	}
	return false, nil
}

// RequireEdit returns ErrForbidden unless identity may edit the policy
func (g *Gate) RequireEdit(ctx context.Context, identity *types.Identity, policyID uuid.UUID) error {
	ok, err := g.CanEdit(ctx, identity, policyID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no editor permission on policy %s", types.ErrForbidden, policyID)
	}
	return nil
}
