package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hrdesk/pbac/internal/db"
	"github.com/hrdesk/pbac/pkg/types"
)

const (
	policyColumns  = "id, policy_number, name, description, status, is_archived, current_version, created_at, updated_at"
	ruleColumns    = "id, policy_id, effect, resource, action, conditions, created_at"
	bindingColumns = "id, policy_id, subject_type, subject_id, created_at"
	versionColumns = "id, policy_id, version, name, description, created_at"
	roleColumns    = "id, name, level, description, created_at"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store
func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{db: conn}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner, p *types.Policy, extra ...interface{}) error {
	dest := []interface{}{
		&p.ID, &p.PolicyNumber, &p.Name, &p.Description, &p.Status,
		&p.IsArchived, &p.CurrentVersion, &p.CreatedAt, &p.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

func scanRule(row rowScanner, r *types.PolicyRule, extra ...interface{}) error {
	dest := []interface{}{
		&r.ID, &r.PolicyID, &r.Effect, &r.Resource, &r.Action, &r.Conditions, &r.CreatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

func scanBinding(row rowScanner, b *types.PolicyBinding) error {
	return row.Scan(&b.ID, &b.PolicyID, &b.SubjectType, &b.SubjectID, &b.CreatedAt)
}

func scanRole(row rowScanner, r *types.Role) error {
	return row.Scan(&r.ID, &r.Name, &r.Level, &r.Description, &r.CreatedAt)
}

// notFoundOr maps sql.ErrNoRows to ErrNotFound and wraps anything else
func notFoundOr(op, what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, types.ErrNotFound)
	}
	return types.NewStorageError(op, err)
}

// ListRoles implements Store
func (s *PostgresStore) ListRoles(ctx context.Context) ([]types.Role, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+roleColumns+" FROM roles ORDER BY level ASC, name ASC")
	if err != nil {
		return nil, types.NewStorageError("list roles", err)
	}
	defer rows.Close()

	var roles []types.Role
	for rows.Next() {
		var r types.Role
		if err := scanRole(rows, &r); err != nil {
			return nil, types.NewStorageError("scan role", err)
		}
		roles = append(roles, r)
	}
	return roles, types.NewStorageError("list roles", rows.Err())
}

// GetRole implements Store
func (s *PostgresStore) GetRole(ctx context.Context, id uuid.UUID) (*types.Role, error) {
	var r types.Role
	err := scanRole(s.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE id = $1", id), &r)
	if err != nil {
		return nil, notFoundOr("get role", "role "+id.String(), err)
	}
	return &r, nil
}

// GetRoleByName implements Store
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (*types.Role, error) {
	var r types.Role
	err := scanRole(s.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE name = $1", name), &r)
	if err != nil {
		return nil, notFoundOr("get role", "role "+name, err)
	}
	return &r, nil
}

// CreatePolicy implements Store
func (s *PostgresStore) CreatePolicy(ctx context.Context, number int, name string, description *string) (*types.Policy, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.NewStorageError("begin create policy", err)
	}
	defer func() { _ = tx.Rollback() }()

	var p types.Policy
	err = scanPolicy(tx.QueryRowContext(ctx, `
		INSERT INTO policies (policy_number, name, description, status, current_version)
		VALUES ($1, $2, $3, 'draft', 1)
		RETURNING `+policyColumns,
		number, name, description,
	), &p)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("policy number %d: %w", number, types.ErrConflict)
		}
		return nil, types.NewStorageError("insert policy", err)
	}

	if err := insertVersion(ctx, tx, &p); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, types.NewStorageError("commit create policy", err)
	}
	return &p, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, p *types.Policy) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO policy_versions (policy_id, version, name, description)
		VALUES ($1, $2, $3, $4)`,
		p.ID, p.CurrentVersion, p.Name, p.Description,
	)
	return types.NewStorageError("insert policy version", err)
}

// GetPolicy implements Store
func (s *PostgresStore) GetPolicy(ctx context.Context, id uuid.UUID) (*types.Policy, error) {
	var p types.Policy
	err := scanPolicy(s.db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = $1", id), &p)
	if err != nil {
		return nil, notFoundOr("get policy", "policy "+id.String(), err)
	}
	return &p, nil
}

// GetPolicyByNumber implements Store
func (s *PostgresStore) GetPolicyByNumber(ctx context.Context, number int) (*types.Policy, error) {
	var p types.Policy
	err := scanPolicy(s.db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE policy_number = $1", number), &p)
	if err != nil {
		return nil, notFoundOr("get policy", fmt.Sprintf("policy number %d", number), err)
	}
	return &p, nil
}

// ListPolicies implements Store
func (s *PostgresStore) ListPolicies(ctx context.Context) ([]types.PolicySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.policy_number, p.name, p.description, p.status, p.is_archived,
		       p.current_version, p.created_at, p.updated_at,
		       (SELECT COUNT(*) FROM policy_rules pr WHERE pr.policy_id = p.id AND pr.effect = 'allow') AS allow_count,
		       (SELECT COUNT(*) FROM policy_rules pr WHERE pr.policy_id = p.id AND pr.effect = 'deny') AS deny_count
		FROM policies p
		ORDER BY p.policy_number ASC`)
	if err != nil {
		return nil, types.NewStorageError("list policies", err)
	}
	defer rows.Close()

	var out []types.PolicySummary
	for rows.Next() {
		var sum types.PolicySummary
		if err := scanPolicy(rows, &sum.Policy, &sum.AllowCount, &sum.DenyCount); err != nil {
			return nil, types.NewStorageError("scan policy", err)
		}
		out = append(out, sum)
	}
	return out, types.NewStorageError("list policies", rows.Err())
}

// UpdatePolicyContent implements Store. The policy row is locked for the
// duration of the transaction so concurrent editors serialize their version
// bumps.
func (s *PostgresStore) UpdatePolicyContent(ctx context.Context, id uuid.UUID, name string, description *string, draftOnly bool) (*types.Policy, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.NewStorageError("begin update policy", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current types.Policy
	err = scanPolicy(tx.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = $1 FOR UPDATE", id), &current)
	if err != nil {
		return nil, notFoundOr("lock policy", "policy "+id.String(), err)
	}
	if draftOnly && !current.IsDraft() {
		return nil, fmt.Errorf("policy %s is %s: %w", id, current.Status, types.ErrPolicyImmutable)
	}

	var p types.Policy
	err = scanPolicy(tx.QueryRowContext(ctx, `
		UPDATE policies
		SET name = $2, description = $3, current_version = current_version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING `+policyColumns,
		id, name, description,
	), &p)
	if err != nil {
		return nil, types.NewStorageError("update policy", err)
	}

	if err := insertVersion(ctx, tx, &p); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, types.NewStorageError("commit update policy", err)
	}
	return &p, nil
}

// ListVersions implements Store
func (s *PostgresStore) ListVersions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyVersion, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+versionColumns+" FROM policy_versions WHERE policy_id = $1 ORDER BY version ASC", policyID)
	if err != nil {
		return nil, types.NewStorageError("list versions", err)
	}
	defer rows.Close()

	var out []types.PolicyVersion
	for rows.Next() {
		var v types.PolicyVersion
		if err := rows.Scan(&v.ID, &v.PolicyID, &v.Version, &v.Name, &v.Description, &v.CreatedAt); err != nil {
			return nil, types.NewStorageError("scan version", err)
		}
		out = append(out, v)
	}
	return out, types.NewStorageError("list versions", rows.Err())
}

func (s *PostgresStore) execAffected(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, types.NewStorageError(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, types.NewStorageError(op, err)
	}
	return n, nil
}

// Activate implements Store
func (s *PostgresStore) Activate(ctx context.Context, id uuid.UUID) (int64, error) {
	return s.execAffected(ctx, "activate policy",
		"UPDATE policies SET status = 'active', updated_at = CURRENT_TIMESTAMP WHERE id = $1 AND status = 'draft'", id)
}

// Archive implements Store
func (s *PostgresStore) Archive(ctx context.Context, id uuid.UUID) (int64, error) {
	return s.execAffected(ctx, "archive policy",
		"UPDATE policies SET status = 'archived', is_archived = TRUE, updated_at = CURRENT_TIMESTAMP WHERE id = $1", id)
}

// DeletePolicy implements Store. Rules, bindings and editor permissions
// cascade via foreign keys; policy_versions has none and is retained.
func (s *PostgresStore) DeletePolicy(ctx context.Context, id uuid.UUID) (int64, error) {
	return s.execAffected(ctx, "delete policy", "DELETE FROM policies WHERE id = $1", id)
}

// lockStatus reads a policy status under a row lock
func lockStatus(ctx context.Context, tx *sql.Tx, query string, id uuid.UUID, what string) (types.PolicyStatus, error) {
	var status types.PolicyStatus
	if err := tx.QueryRowContext(ctx, query, id).Scan(&status); err != nil {
		return "", notFoundOr("lock policy", what, err)
	}
	return status, nil
}

// AddRule implements Store
func (s *PostgresStore) AddRule(ctx context.Context, rule types.PolicyRule) (*types.PolicyRule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.NewStorageError("begin add rule", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockStatus(ctx, tx, "SELECT status FROM policies WHERE id = $1 FOR UPDATE", rule.PolicyID, "policy "+rule.PolicyID.String())
	if err != nil {
		return nil, err
	}
	if status != types.StatusDraft {
		return nil, fmt.Errorf("cannot modify rules of %s policy: %w", status, types.ErrPolicyImmutable)
	}

	var out types.PolicyRule
	err = scanRule(tx.QueryRowContext(ctx, `
		INSERT INTO policy_rules (policy_id, effect, resource, action, conditions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ruleColumns,
		rule.PolicyID, rule.Effect, rule.Resource, rule.Action, rule.Conditions,
	), &out)
	if err != nil {
		return nil, types.NewStorageError("insert rule", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, types.NewStorageError("commit add rule", err)
	}
	return &out, nil
}

// GetRule implements Store
func (s *PostgresStore) GetRule(ctx context.Context, id uuid.UUID) (*types.PolicyRule, error) {
	var r types.PolicyRule
	err := scanRule(s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM policy_rules WHERE id = $1", id), &r)
	if err != nil {
		return nil, notFoundOr("get rule", "rule "+id.String(), err)
	}
	return &r, nil
}

// RemoveRule implements Store
func (s *PostgresStore) RemoveRule(ctx context.Context, ruleID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewStorageError("begin remove rule", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockStatus(ctx, tx, `
		SELECT p.status FROM policy_rules pr
		JOIN policies p ON p.id = pr.policy_id
		WHERE pr.id = $1
		FOR UPDATE OF p`, ruleID, "rule "+ruleID.String())
	if err != nil {
		return err
	}
	if status != types.StatusDraft {
		return fmt.Errorf("cannot modify rules of %s policy: %w", status, types.ErrPolicyImmutable)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM policy_rules WHERE id = $1", ruleID); err != nil {
		return types.NewStorageError("delete rule", err)
	}

	if err := tx.Commit(); err != nil {
		return types.NewStorageError("commit remove rule", err)
	}
	return nil
}

// ListRules implements Store
func (s *PostgresStore) ListRules(ctx context.Context, policyID uuid.UUID) ([]types.PolicyRule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM policy_rules WHERE policy_id = $1 ORDER BY created_at, id", policyID)
	if err != nil {
		return nil, types.NewStorageError("list rules", err)
	}
	defer rows.Close()

	var out []types.PolicyRule
	for rows.Next() {
		var r types.PolicyRule
		if err := scanRule(rows, &r); err != nil {
			return nil, types.NewStorageError("scan rule", err)
		}
		out = append(out, r)
	}
	return out, types.NewStorageError("list rules", rows.Err())
}

// Bind implements Store. A repeated binding hits ON CONFLICT DO NOTHING,
// returns no row, and the existing binding is read back.
func (s *PostgresStore) Bind(ctx context.Context, policyID uuid.UUID, subjectType types.SubjectType, subjectID uuid.UUID) (*types.PolicyBinding, bool, error) {
	var b types.PolicyBinding
	err := scanBinding(s.db.QueryRowContext(ctx, `
		INSERT INTO policy_bindings (policy_id, subject_type, subject_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (policy_id, subject_type, subject_id) DO NOTHING
		RETURNING `+bindingColumns,
		policyID, subjectType, subjectID,
	), &b)
	switch {
	case err == nil:
		return &b, true, nil
	case db.IsForeignKeyViolation(err):
		return nil, false, fmt.Errorf("policy %s: %w", policyID, types.ErrNotFound)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, types.NewStorageError("insert binding", err)
	}

	err = scanBinding(s.db.QueryRowContext(ctx, `
		SELECT `+bindingColumns+` FROM policy_bindings
		WHERE policy_id = $1 AND subject_type = $2 AND subject_id = $3`,
		policyID, subjectType, subjectID,
	), &b)
	if err != nil {
		return nil, false, notFoundOr("get binding", "binding", err)
	}
	return &b, false, nil
}

// Unbind implements Store
func (s *PostgresStore) Unbind(ctx context.Context, bindingID uuid.UUID) (int64, error) {
	return s.execAffected(ctx, "delete binding", "DELETE FROM policy_bindings WHERE id = $1", bindingID)
}

// ListBindings implements Store
func (s *PostgresStore) ListBindings(ctx context.Context, policyID uuid.UUID) ([]types.PolicyBinding, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+bindingColumns+" FROM policy_bindings WHERE policy_id = $1 ORDER BY created_at, id", policyID)
	if err != nil {
		return nil, types.NewStorageError("list bindings", err)
	}
	defer rows.Close()

	var out []types.PolicyBinding
	for rows.Next() {
		var b types.PolicyBinding
		if err := scanBinding(rows, &b); err != nil {
			return nil, types.NewStorageError("scan binding", err)
		}
		out = append(out, b)
	}
	return out, types.NewStorageError("list bindings", rows.Err())
}

// ListPoliciesForSubject implements Store
func (s *PostgresStore) ListPoliciesForSubject(ctx context.Context, subjectType types.SubjectType, subjectID uuid.UUID) ([]types.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.policy_number, p.name, p.description, p.status, p.is_archived,
		       p.current_version, p.created_at, p.updated_at
		FROM policies p
		JOIN policy_bindings pb ON p.id = pb.policy_id
		WHERE pb.subject_type = $1 AND pb.subject_id = $2
		ORDER BY p.policy_number ASC`,
		subjectType, subjectID,
	)
	if err != nil {
		return nil, types.NewStorageError("list subject policies", err)
	}
	defer rows.Close()

	var out []types.Policy
	for rows.Next() {
		var p types.Policy
		if err := scanPolicy(rows, &p); err != nil {
			return nil, types.NewStorageError("scan policy", err)
		}
		out = append(out, p)
	}
	return out, types.NewStorageError("list subject policies", rows.Err())
}

// GrantEditor implements Store
func (s *PostgresStore) GrantEditor(ctx context.Context, policyID uuid.UUID, roleLevel int) (*types.PolicyEditorPermission, error) {
	var perm types.PolicyEditorPermission
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO policy_editor_permissions (policy_id, role_level)
		VALUES ($1, $2)
		ON CONFLICT (policy_id, role_level) DO UPDATE SET role_level = EXCLUDED.role_level
		RETURNING policy_id, role_level, created_at`,
		policyID, roleLevel,
	).Scan(&perm.PolicyID, &perm.RoleLevel, &perm.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("policy %s: %w", policyID, types.ErrNotFound)
		}
		return nil, types.NewStorageError("grant editor", err)
	}
	return &perm, nil
}

// RevokeEditor implements Store
func (s *PostgresStore) RevokeEditor(ctx context.Context, policyID uuid.UUID, roleLevel int) (int64, error) {
	return s.execAffected(ctx, "revoke editor",
		"DELETE FROM policy_editor_permissions WHERE policy_id = $1 AND role_level = $2", policyID, roleLevel)
}

// ListEditorPermissions implements Store
func (s *PostgresStore) ListEditorPermissions(ctx context.Context, policyID uuid.UUID) ([]types.PolicyEditorPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, role_level, created_at FROM policy_editor_permissions
		WHERE policy_id = $1 ORDER BY role_level ASC`, policyID)
	if err != nil {
		return nil, types.NewStorageError("list editors", err)
	}
	defer rows.Close()

	var out []types.PolicyEditorPermission
	for rows.Next() {
		var perm types.PolicyEditorPermission
		if err := rows.Scan(&perm.PolicyID, &perm.RoleLevel, &perm.CreatedAt); err != nil {
			return nil, types.NewStorageError("scan editor", err)
		}
		out = append(out, perm)
	}
	return out, types.NewStorageError("list editors", rows.Err())
}

// ActiveRulesFor implements engine.RuleSource with a single join across
// policies, bindings and rules. EXISTS keeps a rule from appearing twice when
// its policy is bound to both the user and the role.
func (s *PostgresStore) ActiveRulesFor(ctx context.Context, userID uuid.UUID, roleID *uuid.UUID) ([]types.CandidateRule, error) {
	var role interface{}
	if roleID != nil {
		role = *roleID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pr.id, pr.policy_id, pr.effect, pr.resource, pr.action, pr.conditions, pr.created_at,
		       p.id, p.policy_number, p.name, p.description, p.status, p.is_archived,
		       p.current_version, p.created_at, p.updated_at
		FROM policy_rules pr
		JOIN policies p ON p.id = pr.policy_id
		WHERE p.status = 'active'
		  AND EXISTS (
		      SELECT 1 FROM policy_bindings pb
		      WHERE pb.policy_id = p.id
		        AND ((pb.subject_type = 'user' AND pb.subject_id = $1)
		          OR (pb.subject_type = 'role' AND pb.subject_id = $2))
		  )
		ORDER BY p.policy_number ASC, pr.created_at ASC, pr.id ASC`,
		userID, role,
	)
	if err != nil {
		return nil, types.NewStorageError("query active rules", err)
	}
	defer rows.Close()

	var out []types.CandidateRule
	for rows.Next() {
		var c types.CandidateRule
		p := &c.Policy
		err := scanRule(rows, &c.Rule,
			&p.ID, &p.PolicyNumber, &p.Name, &p.Description, &p.Status,
			&p.IsArchived, &p.CurrentVersion, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, types.NewStorageError("scan active rule", err)
		}
		out = append(out, c)
	}
	return out, types.NewStorageError("query active rules", rows.Err())
}
