package memory

import (
	"context"
	"sort"
	"time"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// CreateScheduleIfAbsent inserts sched unless the week already has a
// pending or running schedule.
func (s *Store) CreateScheduleIfAbsent(
	_ context.Context,
	sched crawler.WeeklySchedule,
) (crawler.WeeklySchedule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.schedules {
		if existing.WeekStart.Equal(sched.WeekStart) && !existing.Status.Terminal() {
			return existing, false, nil
		}
	}
	s.scheduleSeq++
	sched.ID = s.scheduleSeq
	s.schedules[sched.ID] = sched
	return sched, true, nil
}

// GetSchedule returns the latest schedule recorded for weekStart.
func (s *Store) GetSchedule(_ context.Context, weekStart time.Time) (crawler.WeeklySchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest crawler.WeeklySchedule
		found  bool
	)
	for _, sched := range s.schedules {
		if !sched.WeekStart.Equal(weekStart) {
			continue
		}
		if !found || sched.ID > latest.ID {
			latest, found = sched, true
		}
	}
	if !found {
		return crawler.WeeklySchedule{}, crawler.ErrNotFound
	}
	return latest, nil
}

// ListOpenSchedules returns pending and running schedules ordered by ID.
func (s *Store) ListOpenSchedules(_ context.Context) ([]crawler.WeeklySchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.WeeklySchedule
	for _, sched := range s.schedules {
		if !sched.Status.Terminal() {
			out = append(out, sched)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateSchedule overwrites a stored schedule.
func (s *Store) UpdateSchedule(_ context.Context, sched crawler.WeeklySchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ID]; !ok {
		return crawler.ErrNotFound
	}
	s.schedules[sched.ID] = sched
	return nil
}

// CountOpenSchedules returns the number of non-terminal schedules for weekStart.
func (s *Store) CountOpenSchedules(weekStart time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sched := range s.schedules {
		if sched.WeekStart.Equal(weekStart) && !sched.Status.Terminal() {
			n++
		}
	}
	return n
}
