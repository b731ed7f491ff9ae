package policy

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdesk/pbac/pkg/types"
)

var (
	policyCols  = []string{"id", "policy_number", "name", "description", "status", "is_archived", "current_version", "created_at", "updated_at"}
	ruleCols    = []string{"id", "policy_id", "effect", "resource", "action", "conditions", "created_at"}
	bindingCols = []string{"id", "policy_id", "subject_type", "subject_id", "created_at"}
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return NewPostgresStore(conn), mock
}

func policyRow(id uuid.UUID, number int, name, status string, version int) []driver.Value {
	now := time.Now()
	return []driver.Value{id.String(), number, name, "HR policy", status, status == "archived", version, now, now}
}

func TestPostgresStore_CreatePolicy(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO policies").
		WithArgs(7, "Leave approvals", "HR policy").
		WillReturnRows(sqlmock.NewRows(policyCols).AddRow(policyRow(id, 7, "Leave approvals", "draft", 1)...))
	mock.ExpectExec("INSERT INTO policy_versions").
		WithArgs(id, 1, "Leave approvals", "HR policy").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p, err := store.CreatePolicy(context.Background(), 7, "Leave approvals", strPtr("HR policy"))
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, types.StatusDraft, p.Status)
	assert.Equal(t, 1, p.CurrentVersion)
	require.NotNil(t, p.Description)
	assert.Equal(t, "HR policy", *p.Description)
}

func TestPostgresStore_CreatePolicyRollsBackOnVersionFailure(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO policies").
		WillReturnRows(sqlmock.NewRows(policyCols).AddRow(policyRow(id, 7, "Leave", "draft", 1)...))
	mock.ExpectExec("INSERT INTO policy_versions").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.CreatePolicy(context.Background(), 7, "Leave", nil)
	assert.ErrorIs(t, err, types.ErrStorage)
}

func TestPostgresStore_CreatePolicyDuplicateNumber(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO policies").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "policies_policy_number_key"})
	mock.ExpectRollback()

	_, err := store.CreatePolicy(context.Background(), 7, "Leave", nil)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestPostgresStore_UpdatePolicyContent(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM policies WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(policyCols).AddRow(policyRow(id, 1, "Old", "active", 3)...))
	mock.ExpectQuery("UPDATE policies").
		WithArgs(id, "New", nil).
		WillReturnRows(sqlmock.NewRows(policyCols).AddRow(policyRow(id, 1, "New", "active", 4)...))
	mock.ExpectExec("INSERT INTO policy_versions").
		WithArgs(id, 4, "New", "HR policy").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p, err := store.UpdatePolicyContent(context.Background(), id, "New", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 4, p.CurrentVersion)
}

func TestPostgresStore_UpdatePolicyContentDraftOnly(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(policyCols).AddRow(policyRow(id, 1, "Old", "active", 1)...))
	mock.ExpectRollback()

	_, err := store.UpdatePolicyContent(context.Background(), id, "New", nil, true)
	assert.ErrorIs(t, err, types.ErrPolicyImmutable)
}

func TestPostgresStore_UpdatePolicyContentNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs(id).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.UpdatePolicyContent(context.Background(), id, "New", nil, false)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPostgresStore_ActivateAndArchive(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE policies SET status = 'active', updated_at = CURRENT_TIMESTAMP WHERE id = $1 AND status = 'draft'")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("status = 'draft'")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'archived', is_archived = TRUE")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	n, err := store.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = store.Archive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgresStore_AddRule(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		wantErr error
	}{
		{name: "draft accepts rules", status: "draft"},
		{name: "active is immutable", status: "active", wantErr: types.ErrPolicyImmutable},
		{name: "archived is immutable", status: "archived", wantErr: types.ErrPolicyImmutable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			policyID := uuid.New()
			ruleID := uuid.New()

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM policies WHERE id = $1 FOR UPDATE")).
				WithArgs(policyID).
				WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(tt.status))
			if tt.wantErr == nil {
				mock.ExpectQuery("INSERT INTO policy_rules").
					WithArgs(policyID, "allow", "leave_request", "read", nil).
					WillReturnRows(sqlmock.NewRows(ruleCols).AddRow(ruleID.String(), policyID.String(), "allow", "leave_request", "read", nil, time.Now()))
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			rule, err := store.AddRule(context.Background(), types.PolicyRule{
				PolicyID: policyID,
				Effect:   types.EffectAllow,
				Resource: "leave_request",
				Action:   "read",
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ruleID, rule.ID)
			assert.Nil(t, rule.Conditions)
		})
	}
}

func TestPostgresStore_RemoveRule(t *testing.T) {
	ctx := context.Background()

	t.Run("draft", func(t *testing.T) {
		store, mock := newMockStore(t)
		ruleID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF p")).
			WithArgs(ruleID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM policy_rules WHERE id = $1")).
			WithArgs(ruleID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, store.RemoveRule(ctx, ruleID))
	})

	t.Run("active", func(t *testing.T) {
		store, mock := newMockStore(t)
		ruleID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF p")).
			WithArgs(ruleID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
		mock.ExpectRollback()

		assert.ErrorIs(t, store.RemoveRule(ctx, ruleID), types.ErrPolicyImmutable)
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		ruleID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF p")).WithArgs(ruleID).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		assert.ErrorIs(t, store.RemoveRule(ctx, ruleID), types.ErrNotFound)
	})
}

func TestPostgresStore_BindIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	policyID := uuid.New()
	roleID := uuid.New()
	bindingID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (policy_id, subject_type, subject_id) DO NOTHING")).
		WithArgs(policyID, "role", roleID).
		WillReturnRows(sqlmock.NewRows(bindingCols).AddRow(bindingID.String(), policyID.String(), "role", roleID.String(), now))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (policy_id, subject_type, subject_id) DO NOTHING")).
		WithArgs(policyID, "role", roleID).
		WillReturnRows(sqlmock.NewRows(bindingCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM policy_bindings")).
		WithArgs(policyID, "role", roleID).
		WillReturnRows(sqlmock.NewRows(bindingCols).AddRow(bindingID.String(), policyID.String(), "role", roleID.String(), now))

	ctx := context.Background()
	first, created, err := store.Bind(ctx, policyID, types.SubjectRole, roleID)
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := store.Bind(ctx, policyID, types.SubjectRole, roleID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, types.SubjectRole, second.SubjectType)
}

func TestPostgresStore_BindUnknownPolicy(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO policy_bindings").
		WillReturnError(&pq.Error{Code: "23503"})

	_, _, err := store.Bind(context.Background(), uuid.New(), types.SubjectUser, uuid.New())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPostgresStore_ListPolicies(t *testing.T) {
	store, mock := newMockStore(t)
	first := uuid.New()
	second := uuid.New()

	cols := append(append([]string{}, policyCols...), "allow_count", "deny_count")
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY p.policy_number ASC")).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(append(policyRow(first, 1, "First", "active", 1), 2, 1)...).
			AddRow(append(policyRow(second, 2, "Second", "draft", 1), 0, 0)...))

	list, err := store.ListPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].AllowCount)
	assert.Equal(t, 1, list[0].DenyCount)
	assert.Equal(t, types.StatusDraft, list[1].Status)
}

func TestPostgresStore_ActiveRulesFor(t *testing.T) {
	userID := uuid.New()
	roleID := uuid.New()
	policyID := uuid.New()
	now := time.Now()

	cols := append(append([]string{}, ruleCols...), policyCols...)
	row := append([]driver.Value{uuid.New().String(), policyID.String(), "deny", "payslip", "*", []byte(`{"expression":"context.hour >= 18"}`), now},
		policyRow(policyID, 3, "After hours", "active", 2)...)

	t.Run("with role", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE p.status = 'active'")).
			WithArgs(userID, roleID).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))

		candidates, err := store.ActiveRulesFor(context.Background(), userID, &roleID)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		c := candidates[0]
		assert.Equal(t, types.EffectDeny, c.Rule.Effect)
		require.NotNil(t, c.Rule.Conditions)
		assert.Equal(t, "context.hour >= 18", c.Rule.Conditions.Expression)
		assert.Equal(t, 3, c.Policy.PolicyNumber)
		assert.Equal(t, types.StatusActive, c.Policy.Status)
	})

	t.Run("roleless", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE p.status = 'active'")).
			WithArgs(userID, nil).
			WillReturnRows(sqlmock.NewRows(cols))

		candidates, err := store.ActiveRulesFor(context.Background(), userID, nil)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("storage failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE p.status = 'active'")).
			WillReturnError(errors.New("connection reset by peer"))

		_, err := store.ActiveRulesFor(context.Background(), userID, &roleID)
		assert.ErrorIs(t, err, types.ErrStorage)
		assert.NotErrorIs(t, err, types.ErrNotFound)
	})
}

func TestPostgresStore_DeleteAndUnbind(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM policies WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM policy_bindings WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := store.DeletePolicy(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Unbind(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPostgresStore_ListRoles(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM roles ORDER BY level ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "level", "description", "created_at"}).
			AddRow(uuid.New().String(), "admin", 0, nil, time.Now()).
			AddRow(uuid.New().String(), "manager", 5, "People manager", time.Now()))

	roles, err := store.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Nil(t, roles[0].Description)
	assert.Equal(t, 5, roles[1].Level)
}
