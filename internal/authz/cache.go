package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/gatehouse-vms/gatehouse/internal/observability"
)

// ResolverPort is the value the cache memoizes.
type ResolverPort interface {
	ResolveForUser(ctx context.Context, userID int64) (Resolution, error)
}

// UserDirectory supplies the role lookup the fill path stamps generations
// with and enumerates users for the invalidation fan-out.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (UserAccount, error)
	ListUserIDsByRole(ctx context.Context, roleID int64) ([]int64, error)
}

// Cache memoizes resolved permission sets in Redis, keyed per user and per
// role. It is the only shared mutable state in the core: many concurrent
// readers, written by its own fill path and by the orchestrator's
// invalidations. Every role carries a generation counter; user entries are
// stamped with the generation they observed, so a role invalidation stales
// every dependent user entry at once while the explicit fan-out deletes them.
type Cache struct {
	client   *redis.Client
	resolver ResolverPort
	users    UserDirectory
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	group    singleflight.Group
}

// NewCache constructs a Cache. A nil client degrades to direct resolution.
func NewCache(client *redis.Client, resolver ResolverPort, users UserDirectory, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client:   client,
		resolver: resolver,
		users:    users,
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics,
	}
}

func userKey(userID int64) string {
	return fmt.Sprintf("authz:user:%d", userID)
}

func roleGenKey(roleID int64) string {
	return fmt.Sprintf("authz:role:%d:gen", roleID)
}

// GetUserPermissions returns the cached resolution when present and not
// stale, resolving and storing otherwise. After InvalidateUser(u) returns,
// the next call for u observes a fresh resolution.
func (c *Cache) GetUserPermissions(ctx context.Context, userID int64) (Resolution, error) {
	if c.client == nil {
		return c.resolver.ResolveForUser(ctx, userID)
	}

	key := userKey(userID)
	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var res Resolution
		if err := json.Unmarshal(payload, &res); err == nil {
			gen, genErr := c.roleGen(ctx, res.RoleID)
			if genErr == nil && gen == res.RoleGen {
				c.metrics.AuthzCacheLookup(true)
				return res, nil
			}
		}
		// Stale or undecodable entry: fall through to a fresh fill.
	case errors.Is(err, redis.Nil):
		// Miss.
	default:
		// Redis being unreachable must not take authorization down with it;
		// the store remains the source of truth.
		c.logger.Warn("authz cache read failed, resolving directly", slog.Int64("user_id", userID), slog.Any("error", err))
		return c.resolver.ResolveForUser(ctx, userID)
	}

	c.metrics.AuthzCacheLookup(false)
	value, err, _ := c.group.Do(key, func() (any, error) {
		return c.fill(ctx, userID)
	})
	if err != nil {
		return Resolution{}, err
	}
	return value.(Resolution), nil
}

func (c *Cache) fill(ctx context.Context, userID int64) (Resolution, error) {
	// The generation must be read before resolving. An invalidation landing
	// while the resolver runs bumps the counter, so an entry stamped with
	// the pre-read value is stale on its very next read; stamping after the
	// resolve would let a pre-mutation permission set survive a completed
	// invalidation as a generation-valid hit.
	user, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	gen, genErr := c.roleGen(ctx, user.RoleID)

	res, err := c.resolver.ResolveForUser(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	if genErr != nil {
		// Serve the resolution uncached rather than failing the check.
		c.logger.Warn("authz cache generation read failed", slog.Int64("role_id", user.RoleID), slog.Any("error", genErr))
		return res, nil
	}
	res.RoleGen = gen
	if res.RoleID != user.RoleID {
		// Reassigned mid-fill. Generation counters start at 1, so zero can
		// never match and the next read refills against the new role.
		res.RoleGen = 0
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return Resolution{}, err
	}
	if err := c.client.Set(ctx, userKey(userID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("authz cache write failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return res, nil
}

// roleGen reads the role's generation counter, initialising it to 1 when
// missing.
func (c *Cache) roleGen(ctx context.Context, roleID int64) (int64, error) {
	gen, err := c.client.Get(ctx, roleGenKey(roleID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, roleGenKey(roleID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, roleGenKey(roleID)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return gen, nil
}

// InvalidateUser drops the user's cache entry. Invalidating an absent entry
// is a no-op.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("authz: invalidate user %d: %w", userID, err)
	}
	return nil
}

// InvalidateRole advances the role's generation counter, staling every user
// entry resolved against the previous generation.
func (c *Cache) InvalidateRole(ctx context.Context, roleID int64) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, roleGenKey(roleID)).Err(); err != nil {
		return fmt.Errorf("authz: invalidate role %d: %w", roleID, err)
	}
	return nil
}

// InvalidateAllUsersWithRole enumerates users holding the role and drops
// each of their entries. Cost is O(users-in-role); callers treat this as a
// bulk operation. A user joining the role mid-fan-out may miss this pass;
// the generation stamp set by InvalidateRole covers that window.
func (c *Cache) InvalidateAllUsersWithRole(ctx context.Context, roleID int64) (int, error) {
	if c.client == nil {
		return 0, nil
	}
	userIDs, err := c.users.ListUserIDsByRole(ctx, roleID)
	if err != nil {
		return 0, fmt.Errorf("authz: enumerate users for role %d: %w", roleID, err)
	}
	if len(userIDs) == 0 {
		return 0, nil
	}
	pipe := c.client.Pipeline()
	for _, id := range userIDs {
		pipe.Del(ctx, userKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("authz: invalidate users for role %d: %w", roleID, err)
	}
	c.metrics.AuthzInvalidationFanout(len(userIDs))
	return len(userIDs), nil
}
