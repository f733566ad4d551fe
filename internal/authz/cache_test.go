package authz

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingResolver wraps the real resolver and counts store round-trips.
type countingResolver struct {
	inner *Resolver
	calls atomic.Int64
}

func (c *countingResolver) ResolveForUser(ctx context.Context, userID int64) (Resolution, error) {
	c.calls.Add(1)
	return c.inner.ResolveForUser(ctx, userID)
}

func newTestCache(t *testing.T, repo *mockRepo) (*Cache, *countingResolver) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	resolver := &countingResolver{inner: NewResolver(repo, DefaultCatalog(), 3)}
	cache := NewCache(client, resolver, repo, time.Hour, testLogger(), nil)
	return cache, resolver
}

func TestCacheMemoizesResolution(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)

	cache, resolver := newTestCache(t, repo)

	first, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Visitor.ReadOwn"}, first.Permissions)
	assert.Equal(t, int64(1), resolver.calls.Load())

	second, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, first.Permissions, second.Permissions)
	assert.Equal(t, int64(1), resolver.calls.Load(), "second read is served from cache")
}

func TestInvalidateUserForcesFreshResolution(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)

	cache, resolver := newTestCache(t, repo)

	_, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)

	// Mutate behind the cache's back, then invalidate.
	repo.addGrant(2, "Visitor.ReadAll", 1)
	require.NoError(t, cache.InvalidateUser(context.Background(), 42))

	res, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, res.Permissions, "Visitor.ReadAll",
		"the very next read after InvalidateUser observes a fresh resolution")
	assert.Equal(t, int64(2), resolver.calls.Load())
}

func TestInvalidateUserIsIdempotent(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	cache, _ := newTestCache(t, repo)

	// No entry exists; invalidation is a no-op, not an error.
	require.NoError(t, cache.InvalidateUser(context.Background(), 42))
	require.NoError(t, cache.InvalidateUser(context.Background(), 42))
}

func TestInvalidateRoleStalesDependentUserEntries(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)

	cache, resolver := newTestCache(t, repo)

	_, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)

	repo.addGrant(2, "CheckIn.Process", 1)
	require.NoError(t, cache.InvalidateRole(context.Background(), 2))

	// The user entry still exists in Redis but carries a stale generation.
	res, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, res.Permissions, "CheckIn.Process")
	assert.Equal(t, int64(2), resolver.calls.Load())
}

// gateResolver resolves, then holds the result until released. It opens the
// window between a fill resolving and writing back.
type gateResolver struct {
	inner   ResolverPort
	entered chan struct{}
	release chan struct{}
	armed   atomic.Bool
}

func (g *gateResolver) ResolveForUser(ctx context.Context, userID int64) (Resolution, error) {
	res, err := g.inner.ResolveForUser(ctx, userID)
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return res, err
}

func TestFillOverlappedByInvalidationDoesNotPinStaleEntry(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gate := &gateResolver{
		inner:   NewResolver(repo, DefaultCatalog(), 3),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	gate.armed.Store(true)
	cache := NewCache(client, gate, repo, time.Hour, testLogger(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.GetUserPermissions(context.Background(), 42)
		assert.NoError(t, err)
	}()

	// The grant and its full invalidation complete while the fill still
	// holds the pre-mutation resolution.
	<-gate.entered
	repo.addGrant(2, "Visitor.ReadAll", 1)
	require.NoError(t, cache.InvalidateRole(context.Background(), 2))
	_, err := cache.InvalidateAllUsersWithRole(context.Background(), 2)
	require.NoError(t, err)
	close(gate.release)
	<-done

	// The late write-back carries a pre-invalidation generation, so it must
	// not be served as a valid hit.
	res, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, res.Permissions, "Visitor.ReadAll",
		"the next read after a completed invalidation observes the granted permission")
}

func TestInvalidateAllUsersWithRole(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addUser(UserAccount{ID: 43, RoleID: 2, Active: true})
	repo.addUser(UserAccount{ID: 44, RoleID: 1, Active: true})
	repo.addGrant(2, "Visitor.ReadOwn", 1)

	cache, resolver := newTestCache(t, repo)

	for _, id := range []int64{42, 43, 44} {
		_, err := cache.GetUserPermissions(context.Background(), id)
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), resolver.calls.Load())

	count, err := cache.InvalidateAllUsersWithRole(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "fan-out covers exactly the users holding the role")

	// Users 42 and 43 refill; user 44 (different role) is still cached.
	for _, id := range []int64{42, 43, 44} {
		_, err := cache.GetUserPermissions(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(5), resolver.calls.Load())
}

func TestInvalidateAllUsersWithRoleEnumerationFailure(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.listUsersErr = assert.AnError

	cache, _ := newTestCache(t, repo)
	_, err := cache.InvalidateAllUsersWithRole(context.Background(), 2)
	require.Error(t, err)
}

func TestCacheFallsBackWhenRedisUnavailable(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	resolver := &countingResolver{inner: NewResolver(repo, DefaultCatalog(), 3)}
	cache := NewCache(client, resolver, repo, time.Hour, testLogger(), nil)

	mr.Close()

	// The store is the source of truth; a dead cache degrades to direct
	// resolution instead of failing the check.
	res, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Visitor.ReadOwn"}, res.Permissions)
	assert.Equal(t, int64(1), resolver.calls.Load())
}

func TestCacheNilClientResolvesDirectly(t *testing.T) {
	repo := newMockRepo()
	seedDirectory(repo)
	repo.addGrant(2, "Visitor.ReadOwn", 1)

	resolver := &countingResolver{inner: NewResolver(repo, DefaultCatalog(), 3)}
	cache := NewCache(nil, resolver, repo, time.Hour, testLogger(), nil)

	res, err := cache.GetUserPermissions(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Visitor.ReadOwn"}, res.Permissions)

	require.NoError(t, cache.InvalidateUser(context.Background(), 42))
	require.NoError(t, cache.InvalidateRole(context.Background(), 2))
	count, err := cache.InvalidateAllUsersWithRole(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, count)
}
