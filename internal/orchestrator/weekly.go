package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/metrics"
)

// PlatformFailure records one platform group that could not be triggered.
type PlatformFailure struct {
	Platform crawler.Platform `json:"platform"`
	URLs     int              `json:"urls"`
	Err      string           `json:"error"`
}

// WeeklyOutcome is the result of one weekly batch trigger.
type WeeklyOutcome struct {
	Schedule         crawler.WeeklySchedule `json:"schedule"`
	AlreadyScheduled bool                   `json:"already_scheduled"`
	Jobs             []crawler.CrawlJob     `json:"jobs"`
	Failures         []PlatformFailure      `json:"failures,omitempty"`
}

// Partial reports whether some, but not all, platform groups failed.
func (o WeeklyOutcome) Partial() bool {
	return len(o.Failures) > 0 && len(o.Jobs) > 0
}

// WeeklyStatus summarizes the jobs of one week's batch.
type WeeklyStatus struct {
	WeekStart time.Time               `json:"week_start"`
	Schedule  *crawler.WeeklySchedule `json:"schedule,omitempty"`
	Total     int                     `json:"total_jobs"`
	Triggered int                     `json:"triggered_jobs"`
	Running   int                     `json:"running_jobs"`
	Completed int                     `json:"completed_jobs"`
	Failed    int                     `json:"failed_jobs"`
	Jobs      []crawler.CrawlJob      `json:"jobs"`
}

type platformGroup struct {
	platform crawler.Platform
	params   crawler.PlatformParams
	urls     []string
}

// TriggerWeeklyCrawl starts the batch for the current ISO week. A week that
// already has an open schedule is left alone.
func (s *Service) TriggerWeeklyCrawl(ctx context.Context) (WeeklyOutcome, error) {
	now := s.clock.Now()
	weekStart := s.currentWeek()
	schedule, created, err := s.store.CreateScheduleIfAbsent(ctx, crawler.WeeklySchedule{
		WeekStart:   weekStart,
		Status:      crawler.ScheduleRunning,
		TriggeredAt: now,
	})
	if err != nil {
		metrics.ObserveScheduledRun("weekly", "error")
		return WeeklyOutcome{}, fmt.Errorf("create weekly schedule: %w", err)
	}
	out := WeeklyOutcome{Schedule: schedule}
	if !created {
		s.logger.Info("weekly crawl already scheduled",
			zap.Time("week_start", weekStart),
			zap.String("status", string(schedule.Status)),
		)
		metrics.ObserveScheduledRun("weekly", "skipped")
		out.AlreadyScheduled = true
		return out, nil
	}

	mappings, err := s.store.ListActiveMappings(ctx, nil)
	if err != nil {
		s.failSchedule(ctx, &schedule, fmt.Sprintf("list mappings: %v", err))
		metrics.ObserveScheduledRun("weekly", "error")
		return WeeklyOutcome{Schedule: schedule}, fmt.Errorf("list active mappings: %w", err)
	}
	if len(mappings) == 0 {
		schedule.Status = crawler.ScheduleCompleted
		schedule.Notes = NoMappingsNote
		schedule.CompletedAt = &now
		if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
			return WeeklyOutcome{Schedule: schedule}, fmt.Errorf("update weekly schedule: %w", err)
		}
		s.logger.Info("weekly crawl has no active mappings", zap.Time("week_start", weekStart))
		metrics.ObserveScheduledRun("weekly", "empty")
		out.Schedule = schedule
		return out, nil
	}

	scheduleID := schedule.ID
	for _, group := range groupByPlatform(mappings) {
		job, err := s.triggerGroup(ctx, group, &scheduleID)
		if err != nil {
			s.logger.Warn("weekly platform trigger failed",
				zap.String("platform", string(group.platform)),
				zap.Int("urls", len(group.urls)),
				zap.Error(err),
			)
			out.Failures = append(out.Failures, PlatformFailure{
				Platform: group.platform,
				URLs:     len(group.urls),
				Err:      err.Error(),
			})
			continue
		}
		out.Jobs = append(out.Jobs, job)
	}

	schedule.TotalJobs = len(out.Jobs)
	schedule.TriggerFailures = len(out.Failures)
	schedule.FailedJobs = len(out.Failures)
	schedule.Notes = failureNotes(out.Failures)
	if len(out.Jobs) == 0 {
		schedule.Status = crawler.ScheduleFailed
		schedule.CompletedAt = &now
	}
	if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
		return out, fmt.Errorf("update weekly schedule: %w", err)
	}
	out.Schedule = schedule

	outcome := "ok"
	switch {
	case len(out.Jobs) == 0:
		outcome = "failed"
	case out.Partial():
		outcome = "partial"
	}
	metrics.ObserveScheduledRun("weekly", outcome)
	s.logger.Info("weekly crawl triggered",
		zap.Time("week_start", weekStart),
		zap.Int("jobs", len(out.Jobs)),
		zap.Int("failures", len(out.Failures)),
	)
	return out, nil
}

// WeeklyCrawlStatus reports the batch of the week starting at weekStart, or
// of the current week when weekStart is nil.
func (s *Service) WeeklyCrawlStatus(ctx context.Context, weekStart *time.Time) (WeeklyStatus, error) {
	week := s.currentWeek()
	if weekStart != nil {
		week = crawler.WeekStart(*weekStart, time.UTC)
	}
	status := WeeklyStatus{WeekStart: week}

	var jobs []crawler.CrawlJob
	schedule, err := s.store.GetSchedule(ctx, week)
	switch {
	case err == nil:
		status.Schedule = &schedule
		jobs, err = s.store.ListScheduleJobs(ctx, schedule.ID)
		if err != nil {
			return status, fmt.Errorf("list schedule jobs: %w", err)
		}
	case isNotFound(err):
		since, err := s.store.ListJobsSince(ctx, week)
		if err != nil {
			return status, fmt.Errorf("list jobs since %s: %w", week.Format(time.DateOnly), err)
		}
		end := week.AddDate(0, 0, 7)
		for _, job := range since {
			if job.CreatedAt.Before(end) {
				jobs = append(jobs, job)
			}
		}
	default:
		return status, fmt.Errorf("get weekly schedule: %w", err)
	}

	status.Jobs = jobs
	if status.Jobs == nil {
		status.Jobs = []crawler.CrawlJob{}
	}
	status.Total = len(jobs)
	for _, job := range jobs {
		switch job.Status {
		case crawler.JobStatusTriggered:
			status.Triggered++
		case crawler.JobStatusRunning:
			status.Running++
		case crawler.JobStatusCompleted:
			status.Completed++
		case crawler.JobStatusFailed:
			status.Failed++
		}
	}
	return status, nil
}

// triggerGroup issues one provider trigger for a platform group and records the job.
func (s *Service) triggerGroup(ctx context.Context, group platformGroup, scheduleID *int64) (crawler.CrawlJob, error) {
	res, err := s.provider.Trigger(ctx, group.platform, group.urls, group.params)
	if err != nil {
		metrics.ObserveJobTriggered(string(group.platform), "error")
		return crawler.CrawlJob{}, fmt.Errorf("trigger %s: %w", group.platform, err)
	}
	metrics.ObserveJobTriggered(string(group.platform), "ok")
	job := crawler.CrawlJob{
		ID:        res.Handle,
		Platform:  group.platform,
		DatasetID: res.DatasetID,
		Status:    crawler.JobStatusTriggered,
		CreatedAt: s.clock.Now(),
		Request: crawler.JobRequest{
			URLs:   group.urls,
			Params: crawler.EncodeParams(group.params),
		},
		ScheduleID: scheduleID,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return job, nil
}

func (s *Service) failSchedule(ctx context.Context, schedule *crawler.WeeklySchedule, note string) {
	now := s.clock.Now()
	schedule.Status = crawler.ScheduleFailed
	schedule.Notes = note
	schedule.CompletedAt = &now
	if err := s.store.UpdateSchedule(ctx, *schedule); err != nil {
		s.logger.Error("mark weekly schedule failed", zap.Int64("schedule_id", schedule.ID), zap.Error(err))
	}
}

// groupByPlatform buckets mappings per platform in first-seen order. Every
// group is crawled with the params of its first mapping.
func groupByPlatform(mappings []crawler.SocialMapping) []platformGroup {
	var groups []platformGroup
	index := map[crawler.Platform]int{}
	for _, m := range mappings {
		i, ok := index[m.Platform]
		if !ok {
			params := m.Params
			if params == nil {
				params, _ = crawler.DefaultParams(m.Platform)
			}
			groups = append(groups, platformGroup{platform: m.Platform, params: params})
			i = len(groups) - 1
			index[m.Platform] = i
		}
		groups[i].urls = append(groups[i].urls, m.URL)
	}
	return groups
}

func failureNotes(failures []PlatformFailure) string {
	if len(failures) == 0 {
		return ""
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Platform, f.Err))
	}
	return "trigger failures: " + strings.Join(parts, "; ")
}
