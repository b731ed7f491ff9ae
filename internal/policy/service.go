package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hrdesk/pbac/internal/db"
	"github.com/hrdesk/pbac/internal/metrics"
	"github.com/hrdesk/pbac/internal/notify"
	"github.com/hrdesk/pbac/pkg/types"
)

// ServiceConfig configures policy lifecycle rules
type ServiceConfig struct {
	// DraftOnlyContentEdits rejects content updates on non-Draft policies
	// with ErrPolicyImmutable. By default every status accepts versioned edits.
	DraftOnlyContentEdits bool `yaml:"draft_only_content_edits"`
}

// ConditionValidator checks rule conditions before they are stored
type ConditionValidator interface {
	Validate(conditions *types.Conditions) error
}

// Service applies input validation and lifecycle semantics over a Store and
// emits a notification for every successful mutation.
type Service struct {
	store     Store
	cfg       ServiceConfig
	publisher notify.Publisher
	metrics   metrics.Metrics
	validator ConditionValidator
	logger    *zap.Logger
}

// NewService creates a policy service. publisher, m and logger may be nil.
func NewService(store Store, cfg ServiceConfig, publisher notify.Publisher, m metrics.Metrics, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		cfg:       cfg,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// WithConditionValidator installs a validator for rule conditions
func (s *Service) WithConditionValidator(v ConditionValidator) *Service {
	s.validator = v
	return s
}

// Store returns the underlying store
func (s *Service) Store() Store {
	return s.store
}

// CreatePolicyInput holds the fields of a new policy
type CreatePolicyInput struct {
	PolicyNumber int     `json:"policy_number" yaml:"number"`
	Name         string  `json:"name" yaml:"name"`
	Description  *string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RuleInput holds the fields of a new rule
type RuleInput struct {
	Effect     string            `json:"effect" yaml:"effect"`
	Resource   string            `json:"resource" yaml:"resource"`
	Action     string            `json:"action" yaml:"action"`
	Conditions *types.Conditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateName(name string) error {
	if err := db.ValidateName(strings.TrimSpace(name)); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// record finishes a mutation: metrics, logging and, on success, an event
func (s *Service) record(ctx context.Context, op string, err error, event notify.Event) {
	s.metrics.RecordMutation(op, metrics.ResultFor(err))
	if err != nil {
		if errors.Is(err, types.ErrStorage) {
			s.logger.Error("Policy store write failed", zap.String("op", op), zap.Error(err))
		} else {
			s.logger.Debug("Policy write rejected", zap.String("op", op), zap.Error(err))
		}
		return
	}

	if id, ok := types.IdentityFromContext(ctx); ok {
		if event.Payload == nil {
			event.Payload = map[string]interface{}{}
		}
		event.Payload["actor"] = id.User.Username
	}
	s.publisher.Publish(event)
	s.logger.Info("Policy store updated", zap.String("op", op), zap.String("event", string(event.Type)))
}

// ListRoles returns all roles ordered by level
func (s *Service) ListRoles(ctx context.Context) ([]types.Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRoleByName resolves a role by name
func (s *Service) GetRoleByName(ctx context.Context, name string) (*types.Role, error) {
	return s.store.GetRoleByName(ctx, name)
}

// CreatePolicy creates a Draft policy at version 1
func (s *Service) CreatePolicy(ctx context.Context, in CreatePolicyInput) (*types.Policy, error) {
	if in.PolicyNumber <= 0 {
		return nil, invalid("policy_number must be positive")
	}
	if err := validateName(in.Name); err != nil {
		return nil, err
	}

	p, err := s.store.CreatePolicy(ctx, in.PolicyNumber, strings.TrimSpace(in.Name), in.Description)
	event := notify.Event{Type: notify.EventPolicyCreated}
	if err == nil {
		event.Message = fmt.Sprintf("Policy %s created", p.Label())
		event.Payload = map[string]interface{}{"policy_id": p.ID.String(), "version": p.CurrentVersion}
	}
	s.record(ctx, "create_policy", err, event)
	return p, err
}

// GetPolicy returns a policy by id
func (s *Service) GetPolicy(ctx context.Context, id uuid.UUID) (*types.Policy, error) {
	return s.store.GetPolicy(ctx, id)
}

// GetPolicyByNumber returns a policy by number
func (s *Service) GetPolicyByNumber(ctx context.Context, number int) (*types.Policy, error) {
	return s.store.GetPolicyByNumber(ctx, number)
}

// ListPolicies returns every policy with its rule counts
func (s *Service) ListPolicies(ctx context.Context) ([]types.PolicySummary, error) {
	return s.store.ListPolicies(ctx)
}

// UpdatePolicyContent renames or re-describes a policy, appending a version
func (s *Service) UpdatePolicyContent(ctx context.Context, id uuid.UUID, name string, description *string) (*types.Policy, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	p, err := s.store.UpdatePolicyContent(ctx, id, strings.TrimSpace(name), description, s.cfg.DraftOnlyContentEdits)
	event := notify.Event{Type: notify.EventPolicyUpdated}
	if err == nil {
		event.Message = fmt.Sprintf("Policy %s updated to version %d", p.Label(), p.CurrentVersion)
		event.Payload = map[string]interface{}{"policy_id": p.ID.String(), "version": p.CurrentVersion}
	}
	s.record(ctx, "update_policy", err, event)
	return p, err
}

// ListVersions returns the version history of a policy. History outlives the
// policy, so a deleted policy still lists its versions.
func (s *Service) ListVersions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyVersion, error) {
	versions, err := s.store.ListVersions(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("policy %s: %w", policyID, types.ErrNotFound)
	}
	return versions, nil
}

// Activate moves a Draft policy to Active. A policy that exists but is not
// Draft yields ErrConflict.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*types.Policy, error) {
	n, err := s.store.Activate(ctx, id)
	if err == nil && n == 0 {
		err = s.explainNoop(ctx, id, "activate")
	}

	var p *types.Policy
	if err == nil {
		p, err = s.store.GetPolicy(ctx, id)
	}
	event := notify.Event{Type: notify.EventPolicyActivated}
	if err == nil {
		event.Message = fmt.Sprintf("Policy %s activated", p.Label())
		event.Payload = map[string]interface{}{"policy_id": id.String()}
	}
	s.record(ctx, "activate", err, event)
	return p, err
}

func (s *Service) explainNoop(ctx context.Context, id uuid.UUID, op string) error {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("cannot %s %s policy %s: %w", op, p.Status, id, types.ErrConflict)
}

// Archive moves a policy to Archived from any status
func (s *Service) Archive(ctx context.Context, id uuid.UUID) (*types.Policy, error) {
	n, err := s.store.Archive(ctx, id)
	if err == nil && n == 0 {
		err = fmt.Errorf("policy %s: %w", id, types.ErrNotFound)
	}

	var p *types.Policy
	if err == nil {
		p, err = s.store.GetPolicy(ctx, id)
	}
	event := notify.Event{Type: notify.EventPolicyArchived}
	if err == nil {
		event.Message = fmt.Sprintf("Policy %s archived", p.Label())
		event.Payload = map[string]interface{}{"policy_id": id.String()}
	}
	s.record(ctx, "archive", err, event)
	return p, err
}

// DeletePolicy removes a policy with its rules and bindings
func (s *Service) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	n, err := s.store.DeletePolicy(ctx, id)
	if err == nil && n == 0 {
		err = fmt.Errorf("policy %s: %w", id, types.ErrNotFound)
	}
	s.record(ctx, "delete_policy", err, notify.Event{
		Type:    notify.EventPolicyDeleted,
		Message: fmt.Sprintf("Policy %s deleted", id),
		Payload: map[string]interface{}{"policy_id": id.String()},
	})
	return err
}

// AddRule appends a rule to a Draft policy
func (s *Service) AddRule(ctx context.Context, policyID uuid.UUID, in RuleInput) (*types.PolicyRule, error) {
	rule, err := s.buildRule(policyID, in)
	if err != nil {
		return nil, err
	}

	out, err := s.store.AddRule(ctx, rule)
	event := notify.Event{Type: notify.EventRuleAdded}
	if err == nil {
		event.Message = fmt.Sprintf("Rule %s %s on %s added", out.Effect, out.Action, out.Resource)
		event.Payload = map[string]interface{}{"policy_id": policyID.String(), "rule_id": out.ID.String()}
	}
	s.record(ctx, "add_rule", err, event)
	return out, err
}

func (s *Service) buildRule(policyID uuid.UUID, in RuleInput) (types.PolicyRule, error) {
	effect, err := types.ParseEffect(in.Effect)
	if err != nil {
		return types.PolicyRule{}, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	resource := strings.TrimSpace(in.Resource)
	action := strings.TrimSpace(in.Action)
	if resource == "" || action == "" {
		return types.PolicyRule{}, invalid("resource and action are required")
	}
	if len(resource) > db.MaxPatternLength || len(action) > db.MaxPatternLength {
		return types.PolicyRule{}, invalid("resource and action cannot exceed %d characters", db.MaxPatternLength)
	}

	conditions := in.Conditions
	if conditions.Empty() {
		conditions = nil
	}
	if conditions != nil && s.validator != nil {
		if err := s.validator.Validate(conditions); err != nil {
			return types.PolicyRule{}, fmt.Errorf("%w: conditions: %v", types.ErrInvalidInput, err)
		}
	}

	return types.PolicyRule{
		PolicyID:   policyID,
		Effect:     effect,
		Resource:   resource,
		Action:     action,
		Conditions: conditions,
	}, nil
}

// GetRule returns a rule by id
func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*types.PolicyRule, error) {
	return s.store.GetRule(ctx, id)
}

// RemoveRule deletes a rule of a Draft policy
func (s *Service) RemoveRule(ctx context.Context, ruleID uuid.UUID) error {
	err := s.store.RemoveRule(ctx, ruleID)
	s.record(ctx, "remove_rule", err, notify.Event{
		Type:    notify.EventRuleRemoved,
		Message: fmt.Sprintf("Rule %s removed", ruleID),
		Payload: map[string]interface{}{"rule_id": ruleID.String()},
	})
	return err
}

// ListRules returns the rules of a policy
func (s *Service) ListRules(ctx context.Context, policyID uuid.UUID) ([]types.PolicyRule, error) {
	if _, err := s.store.GetPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	return s.store.ListRules(ctx, policyID)
}

// Bind attaches a policy to a role or user. Repeating a binding returns the
// existing one with created false and publishes nothing.
func (s *Service) Bind(ctx context.Context, policyID uuid.UUID, subjectType types.SubjectType, subjectID uuid.UUID) (*types.PolicyBinding, bool, error) {
	if _, err := types.ParseSubjectType(string(subjectType)); err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	if subjectID == uuid.Nil {
		return nil, false, invalid("subject_id is required")
	}

	b, created, err := s.store.Bind(ctx, policyID, subjectType, subjectID)
	if err == nil && !created {
		return b, false, nil
	}
	event := notify.Event{Type: notify.EventBindingCreated}
	if err == nil {
		event.Message = fmt.Sprintf("Policy %s bound to %s %s", policyID, subjectType, subjectID)
		event.Payload = map[string]interface{}{
			"policy_id":    policyID.String(),
			"binding_id":   b.ID.String(),
			"subject_type": string(subjectType),
			"subject_id":   subjectID.String(),
		}
	}
	s.record(ctx, "bind", err, event)
	return b, created, err
}

// Unbind removes a binding
func (s *Service) Unbind(ctx context.Context, bindingID uuid.UUID) error {
	n, err := s.store.Unbind(ctx, bindingID)
	if err == nil && n == 0 {
		err = fmt.Errorf("binding %s: %w", bindingID, types.ErrNotFound)
	}
	s.record(ctx, "unbind", err, notify.Event{
		Type:    notify.EventBindingRemoved,
		Message: fmt.Sprintf("Binding %s removed", bindingID),
		Payload: map[string]interface{}{"binding_id": bindingID.String()},
	})
	return err
}

// ListBindings returns the bindings of a policy
func (s *Service) ListBindings(ctx context.Context, policyID uuid.UUID) ([]types.PolicyBinding, error) {
	if _, err := s.store.GetPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	return s.store.ListBindings(ctx, policyID)
}

// ListPoliciesForSubject returns the policies bound to a role or user
func (s *Service) ListPoliciesForSubject(ctx context.Context, subjectType types.SubjectType, subjectID uuid.UUID) ([]types.Policy, error) {
	return s.store.ListPoliciesForSubject(ctx, subjectType, subjectID)
}

// GrantEditor delegates edit rights on a policy to roles at or below roleLevel
func (s *Service) GrantEditor(ctx context.Context, policyID uuid.UUID, roleLevel int) (*types.PolicyEditorPermission, error) {
	if roleLevel < 0 {
		return nil, invalid("role_level cannot be negative")
	}
	perm, err := s.store.GrantEditor(ctx, policyID, roleLevel)
	s.record(ctx, "grant_editor", err, notify.Event{
		Type:    notify.EventEditorGranted,
		Message: fmt.Sprintf("Editing of policy %s delegated to role level %d", policyID, roleLevel),
		Payload: map[string]interface{}{"policy_id": policyID.String(), "role_level": roleLevel},
	})
	return perm, err
}

// RevokeEditor removes an editor permission
func (s *Service) RevokeEditor(ctx context.Context, policyID uuid.UUID, roleLevel int) error {
	n, err := s.store.RevokeEditor(ctx, policyID, roleLevel)
	if err == nil && n == 0 {
		err = fmt.Errorf("editor permission %s/%d: %w", policyID, roleLevel, types.ErrNotFound)
	}
	s.record(ctx, "revoke_editor", err, notify.Event{
		Type:    notify.EventEditorRevoked,
		Message: fmt.Sprintf("Editor permission level %d on policy %s revoked", roleLevel, policyID),
		Payload: map[string]interface{}{"policy_id": policyID.String(), "role_level": roleLevel},
	})
	return err
}

// ListEditorPermissions returns the editor permissions of a policy
func (s *Service) ListEditorPermissions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyEditorPermission, error) {
	return s.store.ListEditorPermissions(ctx, policyID)
}
