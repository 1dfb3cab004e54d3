package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

const scheduleColumns = `id, week_start, status, total_jobs, completed_jobs, failed_jobs,
	trigger_failures, notes, triggered_at, completed_at`

// CreateScheduleIfAbsent relies on the partial unique index over open
// schedules, so concurrent instances agree on a single row per week.
func (s *Store) CreateScheduleIfAbsent(
	ctx context.Context,
	sched crawler.WeeklySchedule,
) (crawler.WeeklySchedule, bool, error) {
	created, err := scanSchedule(s.pool.QueryRow(ctx, `
INSERT INTO weekly_crawl_schedules (
	week_start, status, total_jobs, completed_jobs, failed_jobs,
	trigger_failures, notes, triggered_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (week_start) WHERE status IN ('pending', 'running') DO NOTHING
RETURNING `+scheduleColumns,
		sched.WeekStart,
		string(sched.Status),
		sched.TotalJobs,
		sched.CompletedJobs,
		sched.FailedJobs,
		sched.TriggerFailures,
		sched.Notes,
		sched.TriggeredAt,
		sched.CompletedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return crawler.WeeklySchedule{}, false, fmt.Errorf("insert schedule: %w", err)
	}

	existing, err := scanSchedule(s.pool.QueryRow(ctx, `
SELECT `+scheduleColumns+`
FROM weekly_crawl_schedules
WHERE week_start = $1 AND status IN ('pending', 'running')
ORDER BY id DESC
LIMIT 1`, sched.WeekStart))
	if err != nil {
		return crawler.WeeklySchedule{}, false, fmt.Errorf("load open schedule: %w", err)
	}
	return existing, false, nil
}

// GetSchedule returns the latest schedule for weekStart.
func (s *Store) GetSchedule(ctx context.Context, weekStart time.Time) (crawler.WeeklySchedule, error) {
	sched, err := scanSchedule(s.pool.QueryRow(ctx, `
SELECT `+scheduleColumns+`
FROM weekly_crawl_schedules
WHERE week_start = $1
ORDER BY id DESC
LIMIT 1`, weekStart))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.WeeklySchedule{}, crawler.ErrNotFound
		}
		return crawler.WeeklySchedule{}, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// ListOpenSchedules returns pending and running schedules.
func (s *Store) ListOpenSchedules(ctx context.Context) ([]crawler.WeeklySchedule, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+scheduleColumns+`
FROM weekly_crawl_schedules
WHERE status IN ('pending', 'running')
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list open schedules: %w", err)
	}
	defer rows.Close()
	var out []crawler.WeeklySchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

// UpdateSchedule persists the mutable schedule fields.
func (s *Store) UpdateSchedule(ctx context.Context, sched crawler.WeeklySchedule) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE weekly_crawl_schedules
SET status = $2, total_jobs = $3, completed_jobs = $4, failed_jobs = $5,
	trigger_failures = $6, notes = $7, completed_at = $8
WHERE id = $1`,
		sched.ID,
		string(sched.Status),
		sched.TotalJobs,
		sched.CompletedJobs,
		sched.FailedJobs,
		sched.TriggerFailures,
		sched.Notes,
		sched.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", sched.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (crawler.WeeklySchedule, error) {
	var (
		sched  crawler.WeeklySchedule
		status string
	)
	if err := row.Scan(
		&sched.ID,
		&sched.WeekStart,
		&status,
		&sched.TotalJobs,
		&sched.CompletedJobs,
		&sched.FailedJobs,
		&sched.TriggerFailures,
		&sched.Notes,
		&sched.TriggeredAt,
		&sched.CompletedAt,
	); err != nil {
		return crawler.WeeklySchedule{}, err //nolint:wrapcheck
	}
	sched.Status = crawler.ScheduleStatus(status)
	return sched, nil
}
