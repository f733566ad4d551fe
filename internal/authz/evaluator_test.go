package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPerms struct {
	res Resolution
	err error
}

func (s stubPerms) GetUserPermissions(ctx context.Context, userID int64) (Resolution, error) {
	if s.err != nil {
		return Resolution{}, s.err
	}
	res := s.res
	res.UserID = userID
	return res, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEvaluator(perms PermissionSource, grants OwnershipPort) *Evaluator {
	return NewEvaluator(perms, grants, time.Second, testLogger(), nil)
}

func TestEvaluateSinglePermission(t *testing.T) {
	catalog := DefaultCatalog()
	eval := newTestEvaluator(stubPerms{res: Resolution{Permissions: []string{"Visitor.ReadOwn", "CheckIn.Process"}}}, newMockRepo())

	req, err := NewSinglePermission(catalog, "CheckIn.Process")
	require.NoError(t, err)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, req, RequestContext{}).Allowed)

	denied, err := NewSinglePermission(catalog, "Visitor.ReadAll")
	require.NoError(t, err)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, denied, RequestContext{}).Allowed)
}

func TestEvaluateAllOfAnyOf(t *testing.T) {
	catalog := DefaultCatalog()
	eval := newTestEvaluator(stubPerms{res: Resolution{Permissions: []string{"Visitor.Create", "Visitor.Update"}}}, newMockRepo())

	both, err := NewAllOf(catalog, "Visitor.Create", "Visitor.Update")
	require.NoError(t, err)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, both, RequestContext{}).Allowed)

	missing, err := NewAllOf(catalog, "Visitor.Create", "Visitor.Delete")
	require.NoError(t, err)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, missing, RequestContext{}).Allowed)

	any, err := NewAnyOf(catalog, "Visitor.Delete", "Visitor.Update")
	require.NoError(t, err)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, any, RequestContext{}).Allowed)

	none, err := NewAnyOf(catalog, "Visitor.Delete", "Document.Delete")
	require.NoError(t, err)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, none, RequestContext{}).Allowed)
}

func TestEvaluateRoleHierarchyMonotonic(t *testing.T) {
	// Staff(1) < Receptionist(2) < Administrator(3).
	for _, tc := range []struct {
		level   int
		minimum int
		allowed bool
	}{
		{level: 3, minimum: 2, allowed: true},
		{level: 2, minimum: 2, allowed: true},
		{level: 1, minimum: 2, allowed: false},
	} {
		eval := newTestEvaluator(stubPerms{res: Resolution{RoleLevel: tc.level}}, newMockRepo())
		decision := eval.Evaluate(context.Background(), Actor{UserID: 1}, NewRoleOrHigher(tc.minimum), RequestContext{})
		assert.Equal(t, tc.allowed, decision.Allowed, "level %d vs minimum %d", tc.level, tc.minimum)
	}
}

func TestEvaluateRoleInSet(t *testing.T) {
	eval := newTestEvaluator(stubPerms{res: Resolution{RoleID: 7}}, newMockRepo())

	req, err := NewRoleInSet(3, 7, 9)
	require.NoError(t, err)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, req, RequestContext{}).Allowed)

	other, err := NewRoleInSet(3, 9)
	require.NoError(t, err)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, other, RequestContext{}).Allowed)
}

func TestEvaluateResourceOwnership(t *testing.T) {
	catalog := DefaultCatalog()
	req, err := NewResourceOwnership(catalog, "Visitor.Read")
	require.NoError(t, err)

	grants := newMockRepo()
	grants.addAccess(42, 100)

	// Own variant: allowed only with a matching access grant.
	ownOnly := stubPerms{res: Resolution{Permissions: []string{"Visitor.ReadOwn"}}}
	eval := newTestEvaluator(ownOnly, grants)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 42}, req, RequestContext{ResourceID: 100}).Allowed)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 42}, req, RequestContext{ResourceID: 101}).Allowed,
		"missing grant is a deny, not an error")

	// All variant bypasses grants entirely.
	all := stubPerms{res: Resolution{Permissions: []string{"Visitor.ReadAll"}}}
	eval = newTestEvaluator(all, grants)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 42}, req, RequestContext{ResourceID: 100}).Allowed)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 42}, req, RequestContext{ResourceID: 101}).Allowed)

	// Neither variant denies before any grant lookup happens.
	neither := stubPerms{res: Resolution{Permissions: []string{"CheckIn.Process"}}}
	broken := newMockRepo()
	broken.hasAccessErr = errors.New("must not be called")
	eval = newTestEvaluator(neither, broken)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 42}, req, RequestContext{ResourceID: 100}).Allowed)
}

func TestEvaluateOwnershipLookupFailureDenies(t *testing.T) {
	catalog := DefaultCatalog()
	req, err := NewResourceOwnership(catalog, "Visitor.Read")
	require.NoError(t, err)

	grants := newMockRepo()
	grants.hasAccessErr = errors.New("store down")
	eval := newTestEvaluator(stubPerms{res: Resolution{Permissions: []string{"Visitor.ReadOwn"}}}, grants)

	decision := eval.Evaluate(context.Background(), Actor{UserID: 42}, req, RequestContext{ResourceID: 100})
	assert.False(t, decision.Allowed)
}

func TestEvaluateTimeWindow(t *testing.T) {
	eval := newTestEvaluator(stubPerms{}, newMockRepo())

	window, err := NewTimeWindow("09:00", "17:00")
	require.NoError(t, err)

	at := func(hour, minute int) time.Time {
		return time.Date(2026, time.March, 4, hour, minute, 0, 0, time.UTC) // a Wednesday
	}

	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: at(12, 0)}).Allowed)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: at(9, 0)}).Allowed)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: at(17, 0)}).Allowed)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: at(6, 30)}).Allowed)
}

func TestEvaluateOvernightTimeWindow(t *testing.T) {
	eval := newTestEvaluator(stubPerms{}, newMockRepo())

	window, err := NewTimeWindow("22:00", "06:00")
	require.NoError(t, err)

	at := func(hour, minute int) time.Time {
		return time.Date(2026, time.March, 4, hour, minute, 0, 0, time.UTC)
	}

	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: at(23, 30)}).Allowed)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: at(2, 0)}).Allowed)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: at(12, 0)}).Allowed)
}

func TestEvaluateTimeWindowWeekdays(t *testing.T) {
	eval := newTestEvaluator(stubPerms{}, newMockRepo())

	window, err := NewTimeWindow("09:00", "17:00", time.Monday, time.Tuesday)
	require.NoError(t, err)

	monday := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC)

	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: monday}).Allowed)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, window, RequestContext{Now: saturday}).Allowed)
}

func TestEvaluateIPAllowlist(t *testing.T) {
	eval := newTestEvaluator(stubPerms{}, newMockRepo())

	list, err := NewIPAllowlist("10.1.2.3", "192.168.0.0/16")
	require.NoError(t, err)

	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, list, RequestContext{ClientIP: "10.1.2.3"}).Allowed)
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, list, RequestContext{ClientIP: "192.168.44.7"}).Allowed)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, list, RequestContext{ClientIP: "172.16.0.1"}).Allowed)
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, list, RequestContext{ClientIP: ""}).Allowed,
		"unresolvable client ip denies")
}

func TestResolveClientIP(t *testing.T) {
	assert.Equal(t, "203.0.113.9", ResolveClientIP("10.0.0.1:1234", "203.0.113.9, 10.0.0.2", ""))
	assert.Equal(t, "203.0.113.9", ResolveClientIP("10.0.0.1:1234", "", "203.0.113.9"))
	assert.Equal(t, "10.0.0.1", ResolveClientIP("10.0.0.1:1234"))
	assert.Equal(t, "::1", ResolveClientIP("[::1]:8080"))
}

func TestEvaluateComposite(t *testing.T) {
	catalog := DefaultCatalog()
	reg, err := DefaultComposites(catalog, 3)
	require.NoError(t, err)

	roleAdmin, err := reg.Lookup("role-admin")
	require.NoError(t, err)

	// Low-level actor with the explicit permission passes the any-mode composite.
	eval := newTestEvaluator(stubPerms{res: Resolution{RoleLevel: 1, Permissions: []string{"Role.Manage"}}}, newMockRepo())
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, roleAdmin, RequestContext{}).Allowed)

	// Admin-tier actor passes without the permission.
	eval = newTestEvaluator(stubPerms{res: Resolution{RoleLevel: 3}}, newMockRepo())
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, roleAdmin, RequestContext{}).Allowed)

	// Neither branch: deny.
	eval = newTestEvaluator(stubPerms{res: Resolution{RoleLevel: 1}}, newMockRepo())
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, roleAdmin, RequestContext{}).Allowed)

	permAdmin, err := reg.Lookup("permission-admin")
	require.NoError(t, err)

	// All-mode composite needs both the tier and the grant permission.
	eval = newTestEvaluator(stubPerms{res: Resolution{RoleLevel: 3}}, newMockRepo())
	assert.False(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, permAdmin, RequestContext{}).Allowed)
	eval = newTestEvaluator(stubPerms{res: Resolution{RoleLevel: 3, Permissions: []string{"Permission.Grant"}}}, newMockRepo())
	assert.True(t, eval.Evaluate(context.Background(), Actor{UserID: 1}, permAdmin, RequestContext{}).Allowed)
}

func TestEvaluateFailsClosedOnResolutionFailure(t *testing.T) {
	catalog := DefaultCatalog()
	req, err := NewSinglePermission(catalog, "Visitor.ReadAll")
	require.NoError(t, err)

	eval := newTestEvaluator(stubPerms{err: ErrResolutionFailed}, newMockRepo())
	decision := eval.Evaluate(context.Background(), Actor{UserID: 1}, req, RequestContext{})
	assert.False(t, decision.Allowed, "resolution failure must deny, never allow")
	assert.Equal(t, "resolution failure", decision.Reason)
}

func TestEvaluateDeniesSuspendedAccounts(t *testing.T) {
	eval := newTestEvaluator(stubPerms{res: Resolution{RoleLevel: 5, Suspended: true, Permissions: []string{"Permission.Grant"}}}, newMockRepo())

	decision := eval.Evaluate(context.Background(), Actor{UserID: 1}, NewRoleOrHigher(1), RequestContext{})
	assert.False(t, decision.Allowed, "suspended accounts fail every requirement")
}
