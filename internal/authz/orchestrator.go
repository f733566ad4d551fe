package authz

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/gatehouse-vms/gatehouse/internal/shared"
)

// MutationState traces a grant/revoke call through its lifecycle.
type MutationState string

const (
	// StateRejected: validation failed, nothing persisted or invalidated.
	StateRejected MutationState = "rejected"
	// StateFailed: persistence failed, no invalidation attempted.
	StateFailed MutationState = "failed"
	// StateCompleted: persisted and every cache invalidation succeeded.
	StateCompleted MutationState = "completed"
	// StateCompletedDegradedCache: persisted, but invalidation fan-out
	// failed at least partially. The write stands; stale decisions may be
	// served until reconciliation re-runs the fan-out.
	StateCompletedDegradedCache MutationState = "completed-degraded-cache"
)

// MutationResult reports the outcome of a grant or revoke.
type MutationResult struct {
	// Count is the number of associations actually created or removed;
	// idempotent re-grants and absent revokes count as zero.
	Count int
	State MutationState
}

// ReconcileScheduler queues a background re-run of the invalidation fan-out
// after a degraded mutation.
type ReconcileScheduler interface {
	ScheduleCacheReconcile(ctx context.Context, roleID int64) error
}

// ChangeAlerter notifies operators that a role's permission set changed.
// Only mutations touching high-risk permissions trigger it.
type ChangeAlerter interface {
	PermissionChangeAlert(ctx context.Context, roleName, action string, permissionIDs []string) error
}

// Orchestrator is the only mutation path into the role-permission map. On
// success it invalidates the role's cache generation and fans out to every
// user holding the role before returning; the persisted rows are the source
// of truth, so a failed invalidation degrades rather than rolls back.
type Orchestrator struct {
	repo       RepositoryPort
	catalog    *Catalog
	cache      *Cache
	audit      *shared.AuditLogger
	logger     *slog.Logger
	reconciler ReconcileScheduler
	alerts     ChangeAlerter

	mu        sync.Mutex
	roleLocks map[int64]*sync.Mutex
}

// NewOrchestrator constructs an Orchestrator. audit, reconciler and alerts
// may be nil.
func NewOrchestrator(repo RepositoryPort, catalog *Catalog, cache *Cache, audit *shared.AuditLogger, reconciler ReconcileScheduler, alerts ChangeAlerter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		repo:       repo,
		catalog:    catalog,
		cache:      cache,
		audit:      audit,
		logger:     logger,
		reconciler: reconciler,
		alerts:     alerts,
		roleLocks:  make(map[int64]*sync.Mutex),
	}
}

// GrantPermissions associates permissions with a role. Already-granted
// permissions are skipped silently, making retries idempotent; the returned
// count covers newly created associations only.
func (o *Orchestrator) GrantPermissions(ctx context.Context, roleID int64, permissionIDs []string, grantedBy int64) (MutationResult, error) {
	role, ids, err := o.validate(ctx, roleID, permissionIDs)
	if err != nil {
		return MutationResult{State: StateRejected}, err
	}
	if len(ids) == 0 {
		return MutationResult{State: StateCompleted}, nil
	}

	unlock := o.lockRole(roleID)
	defer unlock()

	count, err := o.repo.GrantRolePermissions(ctx, roleID, ids, grantedBy)
	if err != nil {
		return MutationResult{State: StateFailed}, err
	}

	state := o.invalidate(ctx, roleID)
	o.recordAudit(ctx, grantedBy, "authz.grant", roleID, ids, count, state)
	if count > 0 {
		o.alertHighRisk(ctx, role, "grant", ids)
	}
	return MutationResult{Count: count, State: state}, nil
}

// RevokePermissions removes matching associations, ignoring permissions not
// currently granted, then performs the same invalidation fan-out.
func (o *Orchestrator) RevokePermissions(ctx context.Context, roleID int64, permissionIDs []string, revokedBy int64) (MutationResult, error) {
	role, ids, err := o.validate(ctx, roleID, permissionIDs)
	if err != nil {
		return MutationResult{State: StateRejected}, err
	}
	if len(ids) == 0 {
		return MutationResult{State: StateCompleted}, nil
	}

	unlock := o.lockRole(roleID)
	defer unlock()

	count, err := o.repo.RevokeRolePermissions(ctx, roleID, ids)
	if err != nil {
		return MutationResult{State: StateFailed}, err
	}

	state := o.invalidate(ctx, roleID)
	o.recordAudit(ctx, revokedBy, "authz.revoke", roleID, ids, count, state)
	if count > 0 {
		o.alertHighRisk(ctx, role, "revoke", ids)
	}
	return MutationResult{Count: count, State: state}, nil
}

func (o *Orchestrator) validate(ctx context.Context, roleID int64, permissionIDs []string) (Role, []string, error) {
	role, err := o.repo.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, nil, err
	}
	ids := dedupe(permissionIDs)
	if err := o.catalog.ValidateAll(ids); err != nil {
		return Role{}, nil, err
	}
	return role, ids, nil
}

// alertHighRisk notifies operators when a mutation touched any high-risk
// permission. Failures are logged only; the mutation already stands.
func (o *Orchestrator) alertHighRisk(ctx context.Context, role Role, action string, ids []string) {
	if o.alerts == nil {
		return
	}
	var highRisk []string
	for _, id := range ids {
		if o.catalog.IsHighRisk(id) {
			highRisk = append(highRisk, id)
		}
	}
	if len(highRisk) == 0 {
		return
	}
	if err := o.alerts.PermissionChangeAlert(context.WithoutCancel(ctx), role.Name, action, highRisk); err != nil {
		o.logger.Warn("permission change alert failed", slog.String("role", role.Name), slog.Any("error", err))
	}
}

// invalidate runs the cache invalidation that completes the mutation. The
// rows are already committed, so cancellation of the inbound request must
// not abandon the fan-out mid-flight.
func (o *Orchestrator) invalidate(ctx context.Context, roleID int64) MutationState {
	ctx = context.WithoutCancel(ctx)

	degraded := false
	if err := o.cache.InvalidateRole(ctx, roleID); err != nil {
		o.logger.Warn("role cache invalidation failed", slog.Int64("role_id", roleID), slog.Any("error", err))
		degraded = true
	}
	if _, err := o.cache.InvalidateAllUsersWithRole(ctx, roleID); err != nil {
		o.logger.Warn("user cache invalidation fan-out failed", slog.Int64("role_id", roleID), slog.Any("error", err))
		degraded = true
	}
	if !degraded {
		return StateCompleted
	}
	if o.reconciler != nil {
		if err := o.reconciler.ScheduleCacheReconcile(ctx, roleID); err != nil {
			o.logger.Error("scheduling cache reconciliation failed", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
	}
	return StateCompletedDegradedCache
}

func (o *Orchestrator) recordAudit(ctx context.Context, actorID int64, action string, roleID int64, ids []string, count int, state MutationState) {
	if o.audit == nil {
		return
	}
	err := o.audit.Record(context.WithoutCancel(ctx), shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(roleID, 10),
		Meta: map[string]any{
			"permissions": ids,
			"count":       count,
			"state":       state,
		},
	})
	if err != nil {
		o.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// lockRole serialises mutations per role; different roles proceed
// independently.
func (o *Orchestrator) lockRole(roleID int64) func() {
	o.mu.Lock()
	lock, ok := o.roleLocks[roleID]
	if !ok {
		lock = &sync.Mutex{}
		o.roleLocks[roleID] = lock
	}
	o.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
