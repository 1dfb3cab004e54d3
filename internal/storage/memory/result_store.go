package memory

import (
	"context"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// SaveResults appends rows whose (job, row index) is not yet stored.
func (s *Store) SaveResults(_ context.Context, results []crawler.CrawlResult) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, r := range results {
		if _, ok := s.jobs[r.JobID]; !ok {
			return inserted, crawler.ErrJobNotFound
		}
		if s.hasResultLocked(r.JobID, r.RowIndex) {
			continue
		}
		s.resultSeq++
		r.ID = s.resultSeq
		if r.Processed == "" {
			r.Processed = crawler.ResultPending
		}
		s.results[r.JobID] = append(s.results[r.JobID], r)
		inserted++
	}
	return inserted, nil
}

// ListResults returns a copy of every stored row for a job.
func (s *Store) ListResults(_ context.Context, jobID string) ([]crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.results[jobID]
	out := make([]crawler.CrawlResult, len(rows))
	copy(out, rows)
	return out, nil
}

// ListPendingResults returns rows of a job still awaiting integration.
func (s *Store) ListPendingResults(_ context.Context, jobID string) ([]crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.CrawlResult
	for _, r := range s.results[jobID] {
		if r.Processed == crawler.ResultPending {
			out = append(out, r)
		}
	}
	return out, nil
}

// MarkResultIntegrated flips a pending row to integrated.
func (s *Store) MarkResultIntegrated(_ context.Context, resultID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jobID, rows := range s.results {
		for i := range rows {
			if rows[i].ID != resultID {
				continue
			}
			if rows[i].Processed == crawler.ResultPending {
				rows[i].Processed = crawler.ResultIntegrated
				s.results[jobID] = rows
			}
			return nil
		}
	}
	return crawler.ErrNotFound
}

func (s *Store) hasResultLocked(jobID string, rowIndex int) bool {
	for _, r := range s.results[jobID] {
		if r.RowIndex == rowIndex {
			return true
		}
	}
	return false
}
