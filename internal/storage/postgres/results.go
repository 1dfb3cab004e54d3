package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

const resultColumns = `id, job_id, row_index, source_url, platform, raw_data, extracted_at, processed,
	followers_count, posts_count, reviews_count, rating, error_message`

// SaveResults inserts result rows in one transaction. Rows whose
// (job_id, row_index) already exist are skipped; the count of new rows is returned.
func (s *Store) SaveResults(ctx context.Context, results []crawler.CrawlResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, r := range results {
			raw := r.Raw
			if raw == nil {
				raw = map[string]any{}
			}
			data, err := json.Marshal(raw)
			if err != nil {
				return fmt.Errorf("marshal raw row %d: %w", r.RowIndex, err)
			}
			processed := r.Processed
			if processed == "" {
				processed = crawler.ResultPending
			}
			tag, err := tx.Exec(ctx, `
INSERT INTO crawl_results (
	job_id, row_index, source_url, platform, raw_data, extracted_at, processed,
	followers_count, posts_count, reviews_count, rating, error_message
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (job_id, row_index) DO NOTHING`,
				r.JobID,
				r.RowIndex,
				r.SourceURL,
				string(r.Platform),
				data,
				r.ExtractedAt,
				string(processed),
				r.Followers,
				r.Posts,
				r.Reviews,
				r.Rating,
				r.ErrorText,
			)
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, r.JobID)
				}
				return fmt.Errorf("insert result row %d: %w", r.RowIndex, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListResults returns every stored row of a job in provider order.
func (s *Store) ListResults(ctx context.Context, jobID string) ([]crawler.CrawlResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+resultColumns+`
FROM crawl_results
WHERE job_id = $1
ORDER BY row_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return collectResults(rows)
}

// ListPendingResults returns the rows of a job still awaiting integration.
func (s *Store) ListPendingResults(ctx context.Context, jobID string) ([]crawler.CrawlResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+resultColumns+`
FROM crawl_results
WHERE job_id = $1 AND processed = $2
ORDER BY row_index`, jobID, string(crawler.ResultPending))
	if err != nil {
		return nil, fmt.Errorf("list pending results: %w", err)
	}
	return collectResults(rows)
}

// MarkResultIntegrated moves a pending row to integrated. Rows already past
// pending are left untouched.
func (s *Store) MarkResultIntegrated(ctx context.Context, resultID int64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_results SET processed = $2
WHERE id = $1 AND processed = $3`,
		resultID, string(crawler.ResultIntegrated), string(crawler.ResultPending))
	if err != nil {
		return fmt.Errorf("mark result integrated: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_results WHERE id = $1)`, resultID).
		Scan(&exists); err != nil {
		return fmt.Errorf("check result %d: %w", resultID, err)
	}
	if !exists {
		return crawler.ErrNotFound
	}
	return nil
}

func collectResults(rows pgx.Rows) ([]crawler.CrawlResult, error) {
	defer rows.Close()
	var out []crawler.CrawlResult
	for rows.Next() {
		var (
			r         crawler.CrawlResult
			platform  string
			processed string
			raw       []byte
		)
		if err := rows.Scan(
			&r.ID,
			&r.JobID,
			&r.RowIndex,
			&r.SourceURL,
			&platform,
			&raw,
			&r.ExtractedAt,
			&processed,
			&r.Followers,
			&r.Posts,
			&r.Reviews,
			&r.Rating,
			&r.ErrorText,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Platform = crawler.Platform(platform)
		r.Processed = crawler.ResultStatus(processed)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Raw); err != nil {
				return nil, fmt.Errorf("decode raw row %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}
