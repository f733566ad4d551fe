package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDirectory(repo *mockRepo) {
	repo.addRole(Role{ID: 1, Name: "Staff", Level: 1, Active: true})
	repo.addRole(Role{ID: 2, Name: "Receptionist", Level: 2, Active: true})
	repo.addRole(Role{ID: 3, Name: "Administrator", Level: 3, System: true, Active: true})
	repo.addUser(UserAccount{ID: 42, RoleID: 2, Active: true})
}

func TestResolveForUserMatchesRolePermissions(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)
	repo.addGrant(2, "CheckIn.Process", 1)

	resolver := NewResolver(repo, DefaultCatalog(), 3)

	res, err := resolver.ResolveForUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.UserID)
	assert.Equal(t, int64(2), res.RoleID)
	assert.Equal(t, 2, res.RoleLevel)
	assert.False(t, res.Suspended)
	assert.Equal(t, []string{"CheckIn.Process", "Visitor.ReadOwn"}, res.Permissions,
		"effective set equals exactly the role's permission set")
}

func TestResolveForUserUnknownUser(t *testing.T) {
	resolver := NewResolver(newMockRepo(), DefaultCatalog(), 3)
	_, err := resolver.ResolveForUser(context.Background(), 999)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestResolveForUserSuspendedStates(t *testing.T) {
	catalog := DefaultCatalog()

	cases := []struct {
		name string
		user UserAccount
		role Role
	}{
		{"locked user", UserAccount{ID: 7, RoleID: 1, Active: true, Locked: true}, Role{ID: 1, Level: 1, Active: true}},
		{"inactive user", UserAccount{ID: 7, RoleID: 1, Active: false}, Role{ID: 1, Level: 1, Active: true}},
		{"inactive role", UserAccount{ID: 7, RoleID: 1, Active: true}, Role{ID: 1, Level: 1, Active: false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMockRepo()
			repo.addRole(tc.role)
			repo.addUser(tc.user)
			repo.addGrant(1, "Visitor.ReadOwn", 1)

			res, err := NewResolver(repo, catalog, 3).ResolveForUser(context.Background(), 7)
			require.NoError(t, err)
			assert.True(t, res.Suspended)
			assert.Empty(t, res.Permissions)
		})
	}
}

func TestResolveForUserFiltersInactiveCatalogEntries(t *testing.T) {
	catalog, err := NewCatalog([]Permission{
		{ID: "Visitor.ReadOwn", Risk: RiskLow, Active: true},
		{ID: "Legacy.Export", Risk: RiskLow, Active: false},
	})
	require.NoError(t, err)

	repo := newMockRepo()
	repo.addRole(Role{ID: 1, Level: 1, Active: true})
	repo.addUser(UserAccount{ID: 7, RoleID: 1, Active: true})
	repo.addGrant(1, "Visitor.ReadOwn", 1)
	repo.addGrant(1, "Legacy.Export", 1)

	res, err := NewResolver(repo, catalog, 3).ResolveForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Visitor.ReadOwn"}, res.Permissions,
		"deactivated catalog entries stop conferring the capability")
}

func TestResolveCategoryGroups(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)
	repo.addGrant(2, "Visitor.Create", 1)
	repo.addGrant(2, "CheckIn.Process", 1)

	groups, err := NewResolver(repo, DefaultCatalog(), 3).ResolveCategoryGroups(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups["Visitor"], 2)
	assert.Len(t, groups["CheckIn"], 1)
}

func TestHasElevatedPrivileges(t *testing.T) {
	catalog := DefaultCatalog()

	// By hierarchy level.
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addUser(UserAccount{ID: 9, RoleID: 3, Active: true})
	elevated, err := NewResolver(repo, catalog, 3).HasElevatedPrivileges(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, elevated)

	// By high-risk permission on a low-level role.
	repo = newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Permission.Grant", 1)
	elevated, err = NewResolver(repo, catalog, 3).HasElevatedPrivileges(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, elevated)

	// Neither.
	repo = newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)
	elevated, err = NewResolver(repo, catalog, 3).HasElevatedPrivileges(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, elevated)
}
