package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatehouse-vms/gatehouse/internal/jobs"
)

// DigestFunc builds and queues the digest for the given day.
type DigestFunc func(ctx context.Context, day time.Time) error

// NewDailyDigestHandler wraps a digest function in an Asynq handler. The
// cron fires shortly after midnight, so the digest covers the previous day.
// metrics may be nil.
func NewDailyDigestHandler(run DigestFunc, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskTypeDailyDigest)
		day := time.Now().UTC().AddDate(0, 0, -1)
		if err := run(ctx, day); err != nil {
			logger.Warn("daily digest failed", slog.Any("error", err))
			return tracker.End(err)
		}
		return tracker.End(nil)
	}
}
