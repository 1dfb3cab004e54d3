package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

const jobColumns = `id, platform, dataset_id, status, created_at, completed_at, request,
	result_count, error_message, schedule_id, archive_uri`

// CreateJob records a newly triggered job.
func (s *Store) CreateJob(ctx context.Context, job crawler.CrawlJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal job request: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO crawl_jobs (id, platform, dataset_id, status, created_at, request, schedule_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID,
		string(job.Platform),
		job.DatasetID,
		string(job.Status),
		job.CreatedAt,
		request,
		job.ScheduleID,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlJob{}, crawler.ErrJobNotFound
		}
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// TransitionJob applies t as a compare-and-set on the current status, so two
// callers racing on the same job cannot both move it out of a state.
func (s *Store) TransitionJob(ctx context.Context, jobID string, t crawler.JobTransition) (crawler.CrawlJob, error) {
	var (
		resultCount *int
		archiveURI  *string
		completedAt *time.Time
	)
	if t.Status == crawler.JobStatusCompleted {
		resultCount = &t.ResultCount
		archiveURI = &t.ArchiveURI
	}
	if t.Status.Terminal() {
		at := t.At
		completedAt = &at
	}
	job, err := scanJob(s.pool.QueryRow(ctx, `
UPDATE crawl_jobs
SET status = $2,
	error_message = COALESCE(NULLIF($3, ''), error_message),
	result_count = COALESCE($4, result_count),
	archive_uri = COALESCE($5, archive_uri),
	completed_at = COALESCE($6, completed_at)
WHERE id = $1 AND status = ANY($7)
RETURNING `+jobColumns,
		jobID,
		string(t.Status),
		t.ErrorText,
		resultCount,
		archiveURI,
		completedAt,
		statusStrings(crawler.SourceStatuses(t.Status)),
	))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlJob{}, fmt.Errorf("transition job %s: %w", jobID, err)
	}

	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	if err := crawler.ValidateTransition(current.Status, t.Status); err != nil {
		return current, err
	}
	return current, fmt.Errorf("%w: job %s changed concurrently", crawler.ErrInvalidTransition, jobID)
}

// ListSweepableJobs returns non-terminal jobs created at or after since, oldest first.
func (s *Store) ListSweepableJobs(ctx context.Context, since time.Time) ([]crawler.CrawlJob, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM crawl_jobs
WHERE status = ANY($1) AND created_at >= $2
ORDER BY created_at, id`, statusStrings(crawler.NonTerminalJobStatuses()), since)
	if err != nil {
		return nil, fmt.Errorf("list sweepable jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListScheduleJobs returns the jobs spawned by a weekly schedule.
func (s *Store) ListScheduleJobs(ctx context.Context, scheduleID int64) ([]crawler.CrawlJob, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM crawl_jobs
WHERE schedule_id = $1
ORDER BY created_at, id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list schedule jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListJobsSince returns every job created at or after since.
func (s *Store) ListJobsSince(ctx context.Context, since time.Time) ([]crawler.CrawlJob, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM crawl_jobs
WHERE created_at >= $1
ORDER BY created_at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func scanJob(row pgx.Row) (crawler.CrawlJob, error) {
	var (
		job      crawler.CrawlJob
		platform string
		status   string
		request  []byte
	)
	if err := row.Scan(
		&job.ID,
		&platform,
		&job.DatasetID,
		&status,
		&job.CreatedAt,
		&job.CompletedAt,
		&request,
		&job.ResultCount,
		&job.ErrorText,
		&job.ScheduleID,
		&job.ArchiveURI,
	); err != nil {
		return crawler.CrawlJob{}, err //nolint:wrapcheck
	}
	job.Platform = crawler.Platform(platform)
	job.Status = crawler.JobStatus(status)
	if len(request) > 0 {
		if err := json.Unmarshal(request, &job.Request); err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("decode request of job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]crawler.CrawlJob, error) {
	defer rows.Close()
	var out []crawler.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
