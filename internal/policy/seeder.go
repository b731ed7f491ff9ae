package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hrdesk/pbac/pkg/types"
)

// UserLookup resolves usernames named in seed bindings
type UserLookup interface {
	FindByIdentifier(ctx context.Context, identifier string) (*types.User, error)
}

// SeedResult summarizes one Apply
type SeedResult struct {
	Created []int
	Skipped []int
	Failed  []int
}

// Seeder creates seeded policies through the Service
type Seeder struct {
	svc    *Service
	users  UserLookup
	logger *zap.Logger
}

// NewSeeder creates a seeder. users may be nil when no bundle binds users.
func NewSeeder(svc *Service, users UserLookup, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{svc: svc, users: users, logger: logger}
}

// Apply creates every policy whose number does not exist yet. Existing
// numbers are left untouched, so applying the same bundles twice is a no-op.
// A failing policy does not stop the others; all failures are returned
// joined.
func (s *Seeder) Apply(ctx context.Context, specs []PolicySpec) (SeedResult, error) {
	var res SeedResult
	var errs []error

	for _, spec := range specs {
		_, err := s.svc.GetPolicyByNumber(ctx, spec.Number)
		switch {
		case err == nil:
			res.Skipped = append(res.Skipped, spec.Number)
			continue
		case !errors.Is(err, types.ErrNotFound):
			return res, fmt.Errorf("policy #%d: %w", spec.Number, err)
		}

		if err := s.create(ctx, spec); err != nil {
			s.logger.Error("Failed to seed policy", zap.Int("number", spec.Number), zap.Error(err))
			res.Failed = append(res.Failed, spec.Number)
			errs = append(errs, fmt.Errorf("policy #%d: %w", spec.Number, err))
			continue
		}
		res.Created = append(res.Created, spec.Number)
	}

	s.logger.Info("Seed bundles applied",
		zap.Ints("created", res.Created),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, errors.Join(errs...)
}

func (s *Seeder) create(ctx context.Context, spec PolicySpec) error {
	// Resolve subjects and validate content first so a bad bundle leaves
	// nothing behind
	subjects := make([]types.PolicyBinding, 0, len(spec.Bindings))
	for _, b := range spec.Bindings {
		binding, err := s.resolve(ctx, b)
		if err != nil {
			return err
		}
		subjects = append(subjects, binding)
	}
	for _, r := range spec.Rules {
		if _, err := s.svc.buildRule(uuid.Nil, r); err != nil {
			return fmt.Errorf("rule %s %s on %s: %w", r.Effect, r.Action, r.Resource, err)
		}
	}
	for _, level := range spec.Editors {
		if level < 0 {
			return invalid("editor level %d cannot be negative", level)
		}
	}

	p, err := s.svc.CreatePolicy(ctx, CreatePolicyInput{
		PolicyNumber: spec.Number,
		Name:         spec.Name,
		Description:  spec.Description,
	})
	if err != nil {
		return err
	}

	if err := s.fill(ctx, p.ID, spec, subjects); err != nil {
		if delErr := s.svc.DeletePolicy(ctx, p.ID); delErr != nil {
			s.logger.Error("Failed to remove partially seeded policy",
				zap.Int("number", spec.Number),
				zap.Error(delErr),
			)
			return errors.Join(err, delErr)
		}
		return err
	}
	return nil
}

func (s *Seeder) fill(ctx context.Context, policyID uuid.UUID, spec PolicySpec, subjects []types.PolicyBinding) error {
	for _, r := range spec.Rules {
		if _, err := s.svc.AddRule(ctx, policyID, r); err != nil {
			return fmt.Errorf("rule %s %s on %s: %w", r.Effect, r.Action, r.Resource, err)
		}
	}
	for _, b := range subjects {
		if _, _, err := s.svc.Bind(ctx, policyID, b.SubjectType, b.SubjectID); err != nil {
			return err
		}
	}
	for _, level := range spec.Editors {
		if _, err := s.svc.GrantEditor(ctx, policyID, level); err != nil {
			return err
		}
	}
	if spec.Activate {
		if _, err := s.svc.Activate(ctx, policyID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) resolve(ctx context.Context, b BindingSpec) (types.PolicyBinding, error) {
	st, err := types.ParseSubjectType(b.SubjectType)
	if err != nil {
		return types.PolicyBinding{}, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}

	switch st {
	case types.SubjectRole:
		role, err := s.svc.GetRoleByName(ctx, b.Subject)
		if err != nil {
			return types.PolicyBinding{}, fmt.Errorf("role %q: %w", b.Subject, err)
		}
		return types.PolicyBinding{SubjectType: st, SubjectID: role.ID}, nil
	default:
		if s.users == nil {
			return types.PolicyBinding{}, fmt.Errorf("user %q: no user directory configured", b.Subject)
		}
		user, err := s.users.FindByIdentifier(ctx, b.Subject)
		if err != nil {
			return types.PolicyBinding{}, fmt.Errorf("user %q: %w", b.Subject, err)
		}
		return types.PolicyBinding{SubjectType: st, SubjectID: user.ID}, nil
	}
}
