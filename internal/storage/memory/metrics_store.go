package memory

import (
	"context"
	"time"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// ApplyMetrics upserts the (business, day) row under the store lock.
// CapturedAt is recorded when the row is first created.
func (s *Store) ApplyMetrics(
	_ context.Context,
	businessID int64,
	day time.Time,
	capturedAt time.Time,
	update crawler.MetricsUpdate,
) (crawler.DailyMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := metricsKey{businessID: businessID, day: day}
	row, ok := s.dailyMetrics[key]
	if !ok {
		s.metricsSeq++
		row = crawler.DailyMetrics{
			ID:         s.metricsSeq,
			BusinessID: businessID,
			Day:        day,
			CapturedAt: capturedAt,
		}
	}
	row.Apply(update)
	s.dailyMetrics[key] = row
	return row, nil
}

// GetDailyMetrics returns the row for (business, day).
func (s *Store) GetDailyMetrics(_ context.Context, businessID int64, day time.Time) (crawler.DailyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.dailyMetrics[metricsKey{businessID: businessID, day: day}]
	if !ok {
		return crawler.DailyMetrics{}, crawler.ErrNotFound
	}
	return row, nil
}

// CountDailyMetrics returns how many daily rows exist for a business.
func (s *Store) CountDailyMetrics(businessID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.dailyMetrics {
		if key.businessID == businessID {
			n++
		}
	}
	return n
}
