package authz

import (
	"context"
	"sort"
	"sync"
	"time"
)

// mockRepo is an in-memory RepositoryPort used across the package tests.
type mockRepo struct {
	mu sync.Mutex

	roles  map[int64]Role
	users  map[int64]UserAccount
	grants map[int64]map[string]RolePermission
	access map[[2]int64]struct{}

	// Error injection
	getRoleErr   error
	getUserErr   error
	listPermsErr error
	grantErr     error
	revokeErr    error
	listUsersErr error
	hasAccessErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		roles:  make(map[int64]Role),
		users:  make(map[int64]UserAccount),
		grants: make(map[int64]map[string]RolePermission),
		access: make(map[[2]int64]struct{}),
	}
}

func (m *mockRepo) addRole(role Role) {
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	m.roles[role.ID] = role
}

func (m *mockRepo) addUser(user UserAccount) {
	m.users[user.ID] = user
}

func (m *mockRepo) addGrant(roleID int64, permissionID string, grantedBy int64) {
	if m.grants[roleID] == nil {
		m.grants[roleID] = make(map[string]RolePermission)
	}
	m.grants[roleID][permissionID] = RolePermission{
		RoleID:       roleID,
		PermissionID: permissionID,
		GrantedBy:    grantedBy,
		GrantedAt:    time.Now(),
	}
}

func (m *mockRepo) addAccess(userID, resourceID int64) {
	m.access[[2]int64{userID, resourceID}] = struct{}{}
}

func (m *mockRepo) GetRole(ctx context.Context, roleID int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getRoleErr != nil {
		return Role{}, m.getRoleErr
	}
	role, ok := m.roles[roleID]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return role, nil
}

func (m *mockRepo) GetUser(ctx context.Context, userID int64) (UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getUserErr != nil {
		return UserAccount{}, m.getUserErr
	}
	user, ok := m.users[userID]
	if !ok {
		return UserAccount{}, ErrUserNotFound
	}
	return user, nil
}

func (m *mockRepo) ListRolePermissionIDs(ctx context.Context, roleID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listPermsErr != nil {
		return nil, m.listPermsErr
	}
	var ids []string
	for id := range m.grants[roleID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockRepo) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var grants []RolePermission
	for _, rp := range m.grants[roleID] {
		grants = append(grants, rp)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].PermissionID < grants[j].PermissionID })
	return grants, nil
}

func (m *mockRepo) GrantRolePermissions(ctx context.Context, roleID int64, permissionIDs []string, grantedBy int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grantErr != nil {
		return 0, m.grantErr
	}
	if m.grants[roleID] == nil {
		m.grants[roleID] = make(map[string]RolePermission)
	}
	count := 0
	for _, id := range permissionIDs {
		if _, exists := m.grants[roleID][id]; exists {
			continue
		}
		m.grants[roleID][id] = RolePermission{RoleID: roleID, PermissionID: id, GrantedBy: grantedBy, GrantedAt: time.Now()}
		count++
	}
	return count, nil
}

func (m *mockRepo) RevokeRolePermissions(ctx context.Context, roleID int64, permissionIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeErr != nil {
		return 0, m.revokeErr
	}
	count := 0
	for _, id := range permissionIDs {
		if _, exists := m.grants[roleID][id]; exists {
			delete(m.grants[roleID], id)
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) ListUserIDsByRole(ctx context.Context, roleID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listUsersErr != nil {
		return nil, m.listUsersErr
	}
	var ids []int64
	for _, user := range m.users {
		if user.RoleID == roleID {
			ids = append(ids, user.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *mockRepo) HasResourceAccess(ctx context.Context, userID, resourceID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasAccessErr != nil {
		return false, m.hasAccessErr
	}
	_, ok := m.access[[2]int64{userID, resourceID}]
	return ok, nil
}
