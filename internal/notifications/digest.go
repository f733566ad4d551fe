package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// VisitStats aggregates a day of visit outcomes.
type VisitStats interface {
	DailyCounts(ctx context.Context, day time.Time) (DigestCounts, error)
}

// PGStats computes digest counts from the visitors table.
type PGStats struct {
	pool *pgxpool.Pool
}

// NewPGStats constructs a PGStats.
func NewPGStats(pool *pgxpool.Pool) *PGStats {
	return &PGStats{pool: pool}
}

// DailyCounts aggregates the day's visits. Visitors still in the expected
// state after their scheduled day count as no-shows.
func (s *PGStats) DailyCounts(ctx context.Context, day time.Time) (DigestCounts, error) {
	var counts DigestCounts
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE checked_in_at IS NOT NULL),
			COUNT(*) FILTER (WHERE checked_out_at IS NOT NULL),
			COUNT(*) FILTER (WHERE status = 'expected')
		FROM visitors
		WHERE scheduled_at::date = $1::date`,
		day.Format("2006-01-02")).
		Scan(&counts.Scheduled, &counts.CheckedIn, &counts.CheckedOut, &counts.NoShows)
	if err != nil {
		return DigestCounts{}, fmt.Errorf("notifications: daily counts: %w", err)
	}
	return counts, nil
}

// RunDailyDigest aggregates the day and queues the summary email.
func (s *Service) RunDailyDigest(ctx context.Context, stats VisitStats, to string, day time.Time) error {
	counts, err := stats.DailyCounts(ctx, day)
	if err != nil {
		return err
	}
	return s.DailyDigest(ctx, to, day, counts)
}
