package authz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReconciler struct {
	mu    sync.Mutex
	roles []int64
}

func (s *stubReconciler) ScheduleCacheReconcile(ctx context.Context, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = append(s.roles, roleID)
	return nil
}

type stubAlerter struct {
	mu     sync.Mutex
	alerts []alertCall
}

type alertCall struct {
	roleName string
	action   string
	ids      []string
}

func (s *stubAlerter) PermissionChangeAlert(ctx context.Context, roleName, action string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alertCall{roleName: roleName, action: action, ids: permissionIDs})
	return nil
}

type orchestratorFixture struct {
	repo         *mockRepo
	cache        *Cache
	orchestrator *Orchestrator
	evaluator    *Evaluator
	reconciler   *stubReconciler
	alerter      *stubAlerter
	catalog      *Catalog
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	repo := newMockRepo()
	seedDirectory(repo)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	catalog := DefaultCatalog()
	resolver := NewResolver(repo, catalog, 3)
	cache := NewCache(client, resolver, repo, time.Hour, testLogger(), nil)
	reconciler := &stubReconciler{}
	alerter := &stubAlerter{}
	orchestrator := NewOrchestrator(repo, catalog, cache, nil, reconciler, alerter, testLogger())
	evaluator := NewEvaluator(cache, repo, time.Second, testLogger(), nil)

	return &orchestratorFixture{
		repo:         repo,
		cache:        cache,
		orchestrator: orchestrator,
		evaluator:    evaluator,
		reconciler:   reconciler,
		alerter:      alerter,
		catalog:      catalog,
	}
}

func (f *orchestratorFixture) check(t *testing.T, userID int64, permission string) bool {
	t.Helper()
	req, err := NewSinglePermission(f.catalog, permission)
	require.NoError(t, err)
	return f.evaluator.Evaluate(context.Background(), Actor{UserID: userID}, req, RequestContext{}).Allowed
}

func TestGrantRevokeLifecycle(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	// Receptionist (role 2, user 42) starts with two permissions.
	f.repo.addGrant(2, "Visitor.ReadOwn", 1)
	f.repo.addGrant(2, "CheckIn.Process", 1)

	assert.False(t, f.check(t, 42, "Visitor.ReadAll"))

	result, err := f.orchestrator.GrantPermissions(ctx, 2, []string{"Visitor.ReadAll"}, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, StateCompleted, result.State)

	assert.True(t, f.check(t, 42, "Visitor.ReadAll"),
		"no stale deny survives a completed grant")

	result, err = f.orchestrator.RevokePermissions(ctx, 2, []string{"Visitor.ReadAll"}, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, StateCompleted, result.State)

	assert.False(t, f.check(t, 42, "Visitor.ReadAll"),
		"no stale allow survives a completed revoke")
	assert.True(t, f.check(t, 42, "Visitor.ReadOwn"), "unrelated permissions are untouched")
}

func TestGrantIsIdempotent(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	result, err := f.orchestrator.GrantPermissions(ctx, 2, []string{"Visitor.ReadAll"}, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)

	result, err = f.orchestrator.GrantPermissions(ctx, 2, []string{"Visitor.ReadAll"}, 9)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count, "re-granting counts zero new permissions")
	assert.Equal(t, StateCompleted, result.State)

	ids, err := f.repo.ListRolePermissionIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Visitor.ReadAll"}, ids, "effective set unchanged after the re-grant")
}

func TestRevokeAbsentPermissionIsNoop(t *testing.T) {
	f := newOrchestratorFixture(t)

	result, err := f.orchestrator.RevokePermissions(context.Background(), 2, []string{"Visitor.ReadAll"}, 9)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.Equal(t, StateCompleted, result.State)
}

func TestGrantDeduplicatesRequest(t *testing.T) {
	f := newOrchestratorFixture(t)

	result, err := f.orchestrator.GrantPermissions(context.Background(), 2, []string{"Visitor.ReadAll", "Visitor.ReadAll"}, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
}

func TestGrantUnknownPermissionRejected(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	f.repo.addGrant(2, "Visitor.ReadOwn", 1)

	result, err := f.orchestrator.GrantPermissions(ctx, 2, []string{"Bogus.Action"}, 9)
	require.ErrorIs(t, err, ErrInvalidPermission)
	assert.Equal(t, StateRejected, result.State)

	ids, err := f.repo.ListRolePermissionIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Visitor.ReadOwn"}, ids, "rejected grant leaves the permission set unchanged")
}

func TestGrantUnknownRoleRejected(t *testing.T) {
	f := newOrchestratorFixture(t)

	result, err := f.orchestrator.GrantPermissions(context.Background(), 999, []string{"Visitor.ReadAll"}, 9)
	require.ErrorIs(t, err, ErrRoleNotFound)
	assert.Equal(t, StateRejected, result.State)

	result, err = f.orchestrator.RevokePermissions(context.Background(), 999, []string{"Visitor.ReadAll"}, 9)
	require.ErrorIs(t, err, ErrRoleNotFound)
	assert.Equal(t, StateRejected, result.State)
}

func TestGrantPersistenceFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.repo.grantErr = assert.AnError

	result, err := f.orchestrator.GrantPermissions(context.Background(), 2, []string{"Visitor.ReadAll"}, 9)
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Empty(t, f.reconciler.roles, "no invalidation is attempted when persistence fails")
}

func TestGrantDegradedCacheInvalidation(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.repo.listUsersErr = assert.AnError

	result, err := f.orchestrator.GrantPermissions(context.Background(), 2, []string{"Visitor.ReadAll"}, 9)
	require.NoError(t, err, "the persisted write is authoritative and is not rolled back")
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, StateCompletedDegradedCache, result.State)
	assert.Equal(t, []int64{2}, f.reconciler.roles, "degraded mutations queue a reconciliation pass")

	ids, err := f.repo.ListRolePermissionIDs(context.Background(), 2)
	require.NoError(t, err)
	assert.Contains(t, ids, "Visitor.ReadAll")
}

func TestConcurrentGrantsSameRoleSerialized(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	perms := []string{"Visitor.Create", "Visitor.Update", "Visitor.Delete", "CheckIn.Process", "Report.View"}
	var wg sync.WaitGroup
	for _, p := range perms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orchestrator.GrantPermissions(ctx, 2, []string{p}, 9)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ids, err := f.repo.ListRolePermissionIDs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ids, len(perms), "no grant is lost under concurrency")

	for _, p := range perms {
		assert.True(t, f.check(t, 42, p))
	}
}

func TestHighRiskMutationsAlert(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	_, err := f.orchestrator.GrantPermissions(ctx, 2, []string{"Visitor.ReadAll"}, 9)
	require.NoError(t, err)
	assert.Empty(t, f.alerter.alerts, "moderate-risk grants stay quiet")

	_, err = f.orchestrator.GrantPermissions(ctx, 2, []string{"CheckIn.Override", "Report.View"}, 9)
	require.NoError(t, err)
	require.Len(t, f.alerter.alerts, 1)
	call := f.alerter.alerts[0]
	assert.Equal(t, "Receptionist", call.roleName)
	assert.Equal(t, "grant", call.action)
	assert.Equal(t, []string{"CheckIn.Override"}, call.ids, "only the high-risk ids are reported")

	_, err = f.orchestrator.RevokePermissions(ctx, 2, []string{"CheckIn.Override"}, 9)
	require.NoError(t, err)
	require.Len(t, f.alerter.alerts, 2)
	assert.Equal(t, "revoke", f.alerter.alerts[1].action)
}

func TestGrantEmptyListIsNoop(t *testing.T) {
	f := newOrchestratorFixture(t)

	result, err := f.orchestrator.GrantPermissions(context.Background(), 2, nil, 9)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.Equal(t, StateCompleted, result.State)
}
