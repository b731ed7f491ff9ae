package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrdesk/pbac/pkg/types"
)

// MemoryStore is an in-memory, thread-safe Store with the same lifecycle
// invariants as the PostgreSQL store. It backs tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	roles    map[uuid.UUID]*types.Role
	policies map[uuid.UUID]*types.Policy
	versions map[uuid.UUID][]types.PolicyVersion
	rules    map[uuid.UUID][]types.PolicyRule // by policy, insertion order
	bindings []types.PolicyBinding
	editors  map[uuid.UUID]map[int]types.PolicyEditorPermission
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory policy store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:    make(map[uuid.UUID]*types.Role),
		policies: make(map[uuid.UUID]*types.Policy),
		versions: make(map[uuid.UUID][]types.PolicyVersion),
		rules:    make(map[uuid.UUID][]types.PolicyRule),
		editors:  make(map[uuid.UUID]map[int]types.PolicyEditorPermission),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddRole registers reference role data
func (s *MemoryStore) AddRole(role types.Role) *types.Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = s.now()
	}
	r := role
	s.roles[r.ID] = &r
	return &r
}

// ListRoles implements Store
func (s *MemoryStore) ListRoles(ctx context.Context) ([]types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]types.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, *r)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level < roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

// GetRole implements Store
func (s *MemoryStore) GetRole(ctx context.Context, id uuid.UUID) (*types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, types.ErrNotFound)
	}
	out := *r
	return &out, nil
}

// GetRoleByName implements Store
func (s *MemoryStore) GetRoleByName(ctx context.Context, name string) (*types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.roles {
		if r.Name == name {
			out := *r
			return &out, nil
		}
	}
	return nil, fmt.Errorf("role %q: %w", name, types.ErrNotFound)
}

// CreatePolicy implements Store
func (s *MemoryStore) CreatePolicy(ctx context.Context, number int, name string, description *string) (*types.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.policies {
		if p.PolicyNumber == number {
			return nil, fmt.Errorf("policy number %d: %w", number, types.ErrConflict)
		}
	}

	now := s.now()
	p := &types.Policy{
		ID:             uuid.New(),
		PolicyNumber:   number,
		Name:           name,
		Description:    copyString(description),
		Status:         types.StatusDraft,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.policies[p.ID] = p
	s.versions[p.ID] = append(s.versions[p.ID], snapshot(p, now))

	out := *p
	return &out, nil
}

// GetPolicy implements Store
func (s *MemoryStore) GetPolicy(ctx context.Context, id uuid.UUID) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, types.ErrNotFound)
	}
	out := *p
	return &out, nil
}

// GetPolicyByNumber implements Store
func (s *MemoryStore) GetPolicyByNumber(ctx context.Context, number int) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.policies {
		if p.PolicyNumber == number {
			out := *p
			return &out, nil
		}
	}
	return nil, fmt.Errorf("policy number %d: %w", number, types.ErrNotFound)
}

// ListPolicies implements Store
func (s *MemoryStore) ListPolicies(ctx context.Context) ([]types.PolicySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PolicySummary, 0, len(s.policies))
	for _, p := range s.policies {
		sum := types.PolicySummary{Policy: *p}
		for _, r := range s.rules[p.ID] {
			switch r.Effect {
			case types.EffectAllow:
				sum.AllowCount++
			case types.EffectDeny:
				sum.DenyCount++
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyNumber < out[j].PolicyNumber })
	return out, nil
}

// UpdatePolicyContent implements Store
func (s *MemoryStore) UpdatePolicyContent(ctx context.Context, id uuid.UUID, name string, description *string, draftOnly bool) (*types.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, types.ErrNotFound)
	}
	if draftOnly && !p.IsDraft() {
		return nil, fmt.Errorf("policy %s is %s: %w", id, p.Status, types.ErrPolicyImmutable)
	}

	now := s.now()
	p.Name = name
	p.Description = copyString(description)
	p.CurrentVersion++
	p.UpdatedAt = now
	s.versions[id] = append(s.versions[id], snapshot(p, now))

	out := *p
	return &out, nil
}

// ListVersions implements Store
func (s *MemoryStore) ListVersions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]types.PolicyVersion(nil), s.versions[policyID]...), nil
}

// Activate implements Store
func (s *MemoryStore) Activate(ctx context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok || p.Status != types.StatusDraft {
		return 0, nil
	}
	p.Status = types.StatusActive
	p.UpdatedAt = s.now()
	return 1, nil
}

// Archive implements Store
func (s *MemoryStore) Archive(ctx context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return 0, nil
	}
	p.Status = types.StatusArchived
	p.IsArchived = true
	p.UpdatedAt = s.now()
	return 1, nil
}

// DeletePolicy implements Store
func (s *MemoryStore) DeletePolicy(ctx context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return 0, nil
	}
	delete(s.policies, id)
	delete(s.rules, id)
	delete(s.editors, id)

	kept := s.bindings[:0]
	for _, b := range s.bindings {
		if b.PolicyID != id {
			kept = append(kept, b)
		}
	}
	s.bindings = kept
	return 1, nil
}

// AddRule implements Store
func (s *MemoryStore) AddRule(ctx context.Context, rule types.PolicyRule) (*types.PolicyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[rule.PolicyID]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", rule.PolicyID, types.ErrNotFound)
	}
	if !p.IsDraft() {
		return nil, fmt.Errorf("cannot modify rules of %s policy: %w", p.Status, types.ErrPolicyImmutable)
	}

	rule.ID = uuid.New()
	rule.CreatedAt = s.now()
	s.rules[p.ID] = append(s.rules[p.ID], rule)

	out := rule
	return &out, nil
}

// GetRule implements Store
func (s *MemoryStore) GetRule(ctx context.Context, id uuid.UUID) (*types.PolicyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, _, ok := s.findRule(id); ok {
		out := r
		return &out, nil
	}
	return nil, fmt.Errorf("rule %s: %w", id, types.ErrNotFound)
}

// RemoveRule implements Store
func (s *MemoryStore) RemoveRule(ctx context.Context, ruleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, idx, ok := s.findRule(ruleID)
	if !ok {
		return fmt.Errorf("rule %s: %w", ruleID, types.ErrNotFound)
	}
	p := s.policies[r.PolicyID]
	if !p.IsDraft() {
		return fmt.Errorf("cannot modify rules of %s policy: %w", p.Status, types.ErrPolicyImmutable)
	}

	rules := s.rules[r.PolicyID]
	s.rules[r.PolicyID] = append(rules[:idx:idx], rules[idx+1:]...)
	return nil
}

func (s *MemoryStore) findRule(id uuid.UUID) (types.PolicyRule, int, bool) {
	for _, rules := range s.rules {
		for i, r := range rules {
			if r.ID == id {
				return r, i, true
			}
		}
	}
	return types.PolicyRule{}, -1, false
}

// ListRules implements Store
func (s *MemoryStore) ListRules(ctx context.Context, policyID uuid.UUID) ([]types.PolicyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]types.PolicyRule(nil), s.rules[policyID]...), nil
}

// Bind implements Store
func (s *MemoryStore) Bind(ctx context.Context, policyID uuid.UUID, subjectType types.SubjectType, subjectID uuid.UUID) (*types.PolicyBinding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[policyID]; !ok {
		return nil, false, fmt.Errorf("policy %s: %w", policyID, types.ErrNotFound)
	}
	for _, b := range s.bindings {
		if b.PolicyID == policyID && b.SubjectType == subjectType && b.SubjectID == subjectID {
			out := b
			return &out, false, nil
		}
	}

	b := types.PolicyBinding{
		ID:          uuid.New(),
		PolicyID:    policyID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		CreatedAt:   s.now(),
	}
	s.bindings = append(s.bindings, b)
	return &b, true, nil
}

// Unbind implements Store
func (s *MemoryStore) Unbind(ctx context.Context, bindingID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.bindings {
		if b.ID == bindingID {
			s.bindings = append(s.bindings[:i:i], s.bindings[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

// ListBindings implements Store
func (s *MemoryStore) ListBindings(ctx context.Context, policyID uuid.UUID) ([]types.PolicyBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.PolicyBinding
	for _, b := range s.bindings {
		if b.PolicyID == policyID {
			out = append(out, b)
		}
	}
	return out, nil
}

// ListPoliciesForSubject implements Store
func (s *MemoryStore) ListPoliciesForSubject(ctx context.Context, subjectType types.SubjectType, subjectID uuid.UUID) ([]types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Policy
	for _, b := range s.bindings {
		if b.SubjectType == subjectType && b.SubjectID == subjectID {
			if p, ok := s.policies[b.PolicyID]; ok {
				out = append(out, *p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyNumber < out[j].PolicyNumber })
	return out, nil
}

// GrantEditor implements Store
func (s *MemoryStore) GrantEditor(ctx context.Context, policyID uuid.UUID, roleLevel int) (*types.PolicyEditorPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[policyID]; !ok {
		return nil, fmt.Errorf("policy %s: %w", policyID, types.ErrNotFound)
	}
	perms, ok := s.editors[policyID]
	if !ok {
		perms = make(map[int]types.PolicyEditorPermission)
		s.editors[policyID] = perms
	}
	perm, ok := perms[roleLevel]
	if !ok {
		perm = types.PolicyEditorPermission{PolicyID: policyID, RoleLevel: roleLevel, CreatedAt: s.now()}
		perms[roleLevel] = perm
	}
	return &perm, nil
}

// RevokeEditor implements Store
func (s *MemoryStore) RevokeEditor(ctx context.Context, policyID uuid.UUID, roleLevel int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.editors[policyID][roleLevel]; !ok {
		return 0, nil
	}
	delete(s.editors[policyID], roleLevel)
	return 1, nil
}

// ListEditorPermissions implements Store
func (s *MemoryStore) ListEditorPermissions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyEditorPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PolicyEditorPermission, 0, len(s.editors[policyID]))
	for _, perm := range s.editors[policyID] {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleLevel < out[j].RoleLevel })
	return out, nil
}

// ActiveRulesFor implements engine.RuleSource
func (s *MemoryStore) ActiveRulesFor(ctx context.Context, userID uuid.UUID, roleID *uuid.UUID) ([]types.CandidateRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bound := make(map[uuid.UUID]bool)
	for _, b := range s.bindings {
		switch {
		case b.SubjectType == types.SubjectUser && b.SubjectID == userID:
			bound[b.PolicyID] = true
		case b.SubjectType == types.SubjectRole && roleID != nil && b.SubjectID == *roleID:
			bound[b.PolicyID] = true
		}
	}

	policies := make([]*types.Policy, 0, len(bound))
	for id := range bound {
		if p, ok := s.policies[id]; ok && p.Status == types.StatusActive {
			policies = append(policies, p)
		}
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].PolicyNumber < policies[j].PolicyNumber })

	var out []types.CandidateRule
	for _, p := range policies {
		for _, r := range s.rules[p.ID] {
			out = append(out, types.CandidateRule{Rule: r, Policy: *p})
		}
	}
	return out, nil
}

func snapshot(p *types.Policy, at time.Time) types.PolicyVersion {
	return types.PolicyVersion{
		ID:          uuid.New(),
		PolicyID:    p.ID,
		Version:     p.CurrentVersion,
		Name:        p.Name,
		Description: copyString(p.Description),
		CreatedAt:   at,
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
