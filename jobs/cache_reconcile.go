package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatehouse-vms/gatehouse/internal/jobs"
)

// RoleInvalidator is the slice of the permission cache the reconcile task
// needs. Satisfied by the authz cache.
type RoleInvalidator interface {
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateAllUsersWithRole(ctx context.Context, roleID int64) (int, error)
}

// NewCacheReconcileHandler builds the handler that re-runs the invalidation
// fan-out. Failures return an error so Asynq retries; the committed
// role-permission rows are the source of truth throughout. metrics may be nil.
func NewCacheReconcileHandler(cache RoleInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskTypeCacheReconcile)
		var payload CacheReconcilePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		if err := cache.InvalidateRole(ctx, payload.RoleID); err != nil {
			return tracker.End(err)
		}
		count, err := cache.InvalidateAllUsersWithRole(ctx, payload.RoleID)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("permission cache reconciled",
			slog.Int64("role_id", payload.RoleID),
			slog.Int("users_invalidated", count))
		return tracker.End(nil)
	}
}
