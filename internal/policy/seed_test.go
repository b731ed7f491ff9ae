package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdesk/pbac/internal/auth"
	"github.com/hrdesk/pbac/pkg/types"
)

const leaveBundle = `
policies:
  - number: 10
    name: Leave approvals
    description: Managers read leave requests
    activate: true
    rules:
      - {effect: allow, resource: leave_request, action: read}
      - effect: allow
        resource: leave_request
        action: approve
        conditions:
          expression: context.department == "ops"
    bindings:
      - {subject_type: role, subject: Manager}
      - {subject_type: user, subject: dana}
    editors: [1]
  - number: 11
    name: Draft payslip rules
    rules:
      - {effect: deny, resource: payslip, action: "*"}
`

func writeBundle(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

type seedFixture struct {
	store   *MemoryStore
	svc     *Service
	users   *auth.MemoryUserStore
	manager *types.Role
	dana    *types.User
	seeder  *Seeder
}

func newSeedFixture() *seedFixture {
	f := &seedFixture{store: NewMemoryStore(), users: auth.NewMemoryUserStore()}
	f.manager = f.store.AddRole(types.Role{Name: "Manager", Level: 2})
	f.dana = f.users.AddUser(types.User{Username: "dana", Email: "dana@example.com"})
	f.svc = NewService(f.store, ServiceConfig{}, nil, nil, nil)
	f.seeder = NewSeeder(f.svc, f.users, nil)
	return f
}

func TestLoader_LoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "10-leave.yaml", leaveBundle)
	writeBundle(t, dir, "20-dup.yml", "policies:\n  - {number: 10, name: Shadowed}\n  - {number: 12, name: Reports}\n")
	writeBundle(t, dir, "30-broken.yaml", "policies: [")
	writeBundle(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700))

	specs, err := NewLoader(nil).LoadFromDirectory(dir)
	require.NoError(t, err)

	numbers := make([]int, 0, len(specs))
	for _, s := range specs {
		numbers = append(numbers, s.Number)
	}
	assert.Equal(t, []int{10, 11, 12}, numbers)
	assert.Equal(t, "Leave approvals", specs[0].Name)
	require.Len(t, specs[0].Rules, 2)
	assert.Equal(t, `context.department == "ops"`, specs[0].Rules[1].Conditions.Expression)
	assert.Equal(t, []int{1}, specs[0].Editors)

	_, err = NewLoader(nil).LoadFromDirectory(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestLoader_LoadFromFile(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{"empty file", "", ""},
		{"unknown key", "policies:\n  - {number: 1, name: A, owner: hr}\n", "owner"},
		{"non-positive number", "policies:\n  - {number: 0, name: A}\n", "number must be positive"},
		{"duplicate number", "policies:\n  - {number: 1, name: A}\n  - {number: 1, name: B}\n", "duplicate number"},
		{"missing name", "policies:\n  - {number: 1}\n", "name is required"},
		{"missing subject", "policies:\n  - {number: 1, name: A, bindings: [{subject_type: role}]}\n", "subject is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeBundle(t, dir, "b.yaml", tt.body)
			_, err := NewLoader(nil).LoadFromFile(filepath.Join(dir, "b.yaml"))
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestSeeder_Apply(t *testing.T) {
	ctx := context.Background()
	f := newSeedFixture()
	dir := t.TempDir()
	writeBundle(t, dir, "leave.yaml", leaveBundle)

	specs, err := NewLoader(nil).LoadFromDirectory(dir)
	require.NoError(t, err)

	res, err := f.seeder.Apply(ctx, specs)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11}, res.Created)
	assert.Empty(t, res.Skipped)

	leave, err := f.store.GetPolicyByNumber(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, leave.Status)

	drafts, err := f.store.GetPolicyByNumber(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDraft, drafts.Status)

	bindings, err := f.store.ListBindings(ctx, leave.ID)
	require.NoError(t, err)
	assert.Len(t, bindings, 2)

	perms, err := f.store.ListEditorPermissions(ctx, leave.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, 1, perms[0].RoleLevel)

	candidates, err := f.store.ActiveRulesFor(ctx, uuid.New(), &f.manager.ID)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)

	again, err := f.seeder.Apply(ctx, specs)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Equal(t, []int{10, 11}, again.Skipped)
}

func TestSeeder_UnknownSubject(t *testing.T) {
	ctx := context.Background()
	f := newSeedFixture()

	res, err := f.seeder.Apply(ctx, []PolicySpec{
		{Number: 1, Name: "Ghost role", Bindings: []BindingSpec{{SubjectType: "role", Subject: "Auditor"}}},
		{Number: 2, Name: "Ghost user", Bindings: []BindingSpec{{SubjectType: "user", Subject: "nobody"}}},
		{Number: 3, Name: "Bad variant", Bindings: []BindingSpec{{SubjectType: "team", Subject: "ops"}}},
		{Number: 4, Name: "Fine"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, []int{1, 2, 3}, res.Failed)
	assert.Equal(t, []int{4}, res.Created)

	_, err = f.store.GetPolicyByNumber(ctx, 1)
	assert.ErrorIs(t, err, types.ErrNotFound, "failed subject resolution creates nothing")
}

func TestSeeder_InvalidRule(t *testing.T) {
	f := newSeedFixture()

	res, err := f.seeder.Apply(context.Background(), []PolicySpec{
		{Number: 5, Name: "Bad effect", Rules: []RuleInput{{Effect: "permit", Resource: "x", Action: "y"}}},
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, []int{5}, res.Failed)

	_, err = f.svc.GetPolicyByNumber(context.Background(), 5)
	assert.ErrorIs(t, err, types.ErrNotFound, "invalid rules are caught before the policy is created")
}

// bindFailingStore fails every Bind while failBind is set
type bindFailingStore struct {
	*MemoryStore
	failBind bool
}

func (s *bindFailingStore) Bind(ctx context.Context, policyID uuid.UUID, subjectType types.SubjectType, subjectID uuid.UUID) (*types.PolicyBinding, bool, error) {
	if s.failBind {
		return nil, false, types.NewStorageError("insert binding", errors.New("connection reset"))
	}
	return s.MemoryStore.Bind(ctx, policyID, subjectType, subjectID)
}

func TestSeeder_RemovesPartialPolicy(t *testing.T) {
	ctx := context.Background()
	f := newSeedFixture()
	store := &bindFailingStore{MemoryStore: f.store, failBind: true}
	seeder := NewSeeder(NewService(store, ServiceConfig{}, nil, nil, nil), f.users, nil)

	spec := PolicySpec{
		Number:   7,
		Name:     "Reports",
		Activate: true,
		Rules:    []RuleInput{{Effect: "allow", Resource: "report", Action: "read"}},
		Bindings: []BindingSpec{{SubjectType: "role", Subject: "Manager"}},
	}

	res, err := seeder.Apply(ctx, []PolicySpec{spec})
	assert.ErrorIs(t, err, types.ErrStorage)
	assert.Equal(t, []int{7}, res.Failed)
	_, err = f.svc.GetPolicyByNumber(ctx, 7)
	assert.ErrorIs(t, err, types.ErrNotFound)

	store.failBind = false
	res, err = seeder.Apply(ctx, []PolicySpec{spec})
	require.NoError(t, err)
	assert.Equal(t, []int{7}, res.Created, "a later apply retries the policy")

	p, err := f.svc.GetPolicyByNumber(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, p.Status)
}

func TestSeeder_NoUserDirectory(t *testing.T) {
	f := newSeedFixture()
	seeder := NewSeeder(f.svc, nil, nil)

	_, err := seeder.Apply(context.Background(), []PolicySpec{
		{Number: 1, Name: "Users", Bindings: []BindingSpec{{SubjectType: "user", Subject: "dana"}}},
	})
	assert.ErrorContains(t, err, "no user directory")
}

func TestFileWatcher_ReappliesOnChange(t *testing.T) {
	f := newSeedFixture()
	dir := t.TempDir()
	writeBundle(t, dir, "a.yaml", "policies:\n  - {number: 1, name: First}\n")

	fw, err := NewFileWatcher(dir, NewLoader(nil), f.seeder, nil)
	require.NoError(t, err)
	fw.SetDebounceTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Watch(ctx))
	defer fw.Stop()
	assert.True(t, fw.IsWatching())
	assert.Error(t, fw.Watch(ctx))

	writeBundle(t, dir, "b.yaml", "policies:\n  - {number: 2, name: Second}\n")

	deadline := time.After(5 * time.Second)
	for created := false; !created; {
		select {
		case ev := <-fw.EventChan():
			require.NoError(t, ev.Error)
			_, err := f.store.GetPolicyByNumber(context.Background(), 2)
			created = err == nil
		case <-deadline:
			t.Fatal("bundle written after Watch was not applied")
		}
	}

	_, err = f.store.GetPolicyByNumber(context.Background(), 1)
	assert.NoError(t, err, "files present before Watch are applied on the first reload")

	require.NoError(t, fw.Stop())
	assert.False(t, fw.IsWatching())
	assert.NoError(t, fw.Stop())
}
