package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/metrics"
)

// SweepReport summarizes one completion sweep.
type SweepReport struct {
	Since           time.Time          `json:"since"`
	Jobs            int                `json:"jobs"`
	Summary         dispatcher.Summary `json:"summary"`
	SchedulesClosed int                `json:"schedules_closed"`
	Duration        time.Duration      `json:"duration_ns"`
}

// SweepJobs polls every unfinished job inside the sweep window, ingests the
// completed ones and closes weekly schedules whose jobs are all terminal.
func (s *Service) SweepJobs(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	report := SweepReport{Since: s.clock.Now().Add(-s.cfg.SweepWindow)}
	defer func() {
		report.Duration = time.Since(start)
		metrics.ObserveSweep(report.Duration)
	}()

	jobs, err := s.store.ListSweepableJobs(ctx, report.Since)
	if err != nil {
		metrics.ObserveScheduledRun("sweep", "error")
		return report, fmt.Errorf("list sweepable jobs: %w", err)
	}
	report.Jobs = len(jobs)

	summary, err := s.drainer.Drain(ctx, jobs)
	report.Summary = summary
	if err != nil {
		metrics.ObserveScheduledRun("sweep", "error")
		return report, fmt.Errorf("drain jobs: %w", err)
	}

	closed, err := s.rollUpSchedules(ctx)
	report.SchedulesClosed = closed
	if err != nil {
		metrics.ObserveScheduledRun("sweep", "error")
		return report, err
	}

	outcome := "ok"
	if len(summary.Errors) > 0 {
		outcome = "partial"
	}
	metrics.ObserveScheduledRun("sweep", outcome)
	s.logger.Info("sweep finished",
		zap.Int("jobs", report.Jobs),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", len(summary.Errors)),
		zap.Int("schedules_closed", closed),
	)
	return report, nil
}

// rollUpSchedules refreshes the counters of running weekly schedules and
// completes those whose jobs are all terminal. Schedules whose trigger phase
// has not finished are skipped.
func (s *Service) rollUpSchedules(ctx context.Context) (int, error) {
	open, err := s.store.ListOpenSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open schedules: %w", err)
	}
	closed := 0
	for _, schedule := range open {
		if schedule.Status != crawler.ScheduleRunning {
			continue
		}
		// Totals are written when the trigger phase ends; until then the
		// batch is still being submitted.
		if schedule.TotalJobs+schedule.TriggerFailures == 0 {
			continue
		}
		jobs, err := s.store.ListScheduleJobs(ctx, schedule.ID)
		if err != nil {
			s.logger.Warn("list schedule jobs", zap.Int64("schedule_id", schedule.ID), zap.Error(err))
			continue
		}
		completed, failed, finished := 0, 0, true
		for _, job := range jobs {
			switch job.Status {
			case crawler.JobStatusCompleted:
				completed++
			case crawler.JobStatusFailed:
				failed++
			default:
				finished = false
			}
		}
		if len(jobs) < schedule.TotalJobs {
			finished = false
		}
		schedule.CompletedJobs = completed
		schedule.FailedJobs = failed + schedule.TriggerFailures
		if finished {
			now := s.clock.Now()
			schedule.Status = crawler.ScheduleCompleted
			schedule.CompletedAt = &now
			closed++
		}
		if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
			s.logger.Warn("update schedule", zap.Int64("schedule_id", schedule.ID), zap.Error(err))
			continue
		}
		if finished {
			s.logger.Info("weekly schedule completed",
				zap.Int64("schedule_id", schedule.ID),
				zap.Int("completed_jobs", completed),
				zap.Int("failed_jobs", schedule.FailedJobs),
			)
		}
	}
	return closed, nil
}
