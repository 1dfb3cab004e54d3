package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

const metricsColumns = `id, business_id, day, captured_at, n_followers_ig, n_fan_facebook,
	stelle_google, n_reviews_google, n_reviews_facebook`

// ApplyMetrics upserts the (business, day) row. Fields absent from update keep
// their stored value and captured_at is only set on insert.
func (s *Store) ApplyMetrics(
	ctx context.Context,
	businessID int64,
	day time.Time,
	capturedAt time.Time,
	update crawler.MetricsUpdate,
) (crawler.DailyMetrics, error) {
	m, err := scanDailyMetrics(s.pool.QueryRow(ctx, `
INSERT INTO daily_metrics (
	business_id, day, captured_at, n_followers_ig, n_fan_facebook,
	stelle_google, n_reviews_google, n_reviews_facebook
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (business_id, day) DO UPDATE SET
	n_followers_ig = COALESCE(EXCLUDED.n_followers_ig, daily_metrics.n_followers_ig),
	n_fan_facebook = COALESCE(EXCLUDED.n_fan_facebook, daily_metrics.n_fan_facebook),
	stelle_google = COALESCE(EXCLUDED.stelle_google, daily_metrics.stelle_google),
	n_reviews_google = COALESCE(EXCLUDED.n_reviews_google, daily_metrics.n_reviews_google),
	n_reviews_facebook = COALESCE(EXCLUDED.n_reviews_facebook, daily_metrics.n_reviews_facebook)
RETURNING `+metricsColumns,
		businessID,
		day,
		capturedAt,
		update.FollowersInstagram,
		update.FansFacebook,
		update.RatingGoogle,
		update.ReviewsGoogle,
		update.ReviewsFacebook,
	))
	if err != nil {
		return crawler.DailyMetrics{}, fmt.Errorf("upsert daily metrics: %w", err)
	}
	return m, nil
}

// GetDailyMetrics returns the row for a business and day.
func (s *Store) GetDailyMetrics(ctx context.Context, businessID int64, day time.Time) (crawler.DailyMetrics, error) {
	m, err := scanDailyMetrics(s.pool.QueryRow(ctx, `
SELECT `+metricsColumns+`
FROM daily_metrics
WHERE business_id = $1 AND day = $2`, businessID, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.DailyMetrics{}, crawler.ErrNotFound
		}
		return crawler.DailyMetrics{}, fmt.Errorf("get daily metrics: %w", err)
	}
	return m, nil
}

func scanDailyMetrics(row pgx.Row) (crawler.DailyMetrics, error) {
	var m crawler.DailyMetrics
	err := row.Scan(
		&m.ID,
		&m.BusinessID,
		&m.Day,
		&m.CapturedAt,
		&m.FollowersInstagram,
		&m.FansFacebook,
		&m.RatingGoogle,
		&m.ReviewsGoogle,
		&m.ReviewsFacebook,
	)
	return m, err //nolint:wrapcheck
}
