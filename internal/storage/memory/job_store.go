package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// CreateJob records a newly triggered job.
func (s *Store) CreateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	job.Request = cloneRequest(job.Request)
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, crawler.ErrJobNotFound
	}
	return job, nil
}

// TransitionJob moves a job to t.Status when the state machine allows it.
func (s *Store) TransitionJob(_ context.Context, jobID string, t crawler.JobTransition) (crawler.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, crawler.ErrJobNotFound
	}
	if err := crawler.ValidateTransition(job.Status, t.Status); err != nil {
		return job, err
	}
	job.Status = t.Status
	if t.ErrorText != "" {
		job.ErrorText = t.ErrorText
	}
	if t.Status == crawler.JobStatusCompleted {
		job.ResultCount = t.ResultCount
		job.ArchiveURI = t.ArchiveURI
	}
	if t.Status.Terminal() {
		job.CompletedAt = pointerTime(t.At)
	}
	s.jobs[jobID] = job
	return job, nil
}

// ListSweepableJobs returns non-terminal jobs created at or after since, oldest first.
func (s *Store) ListSweepableJobs(_ context.Context, since time.Time) ([]crawler.CrawlJob, error) {
	return s.filterJobs(func(j crawler.CrawlJob) bool {
		return !j.Status.Terminal() && !j.CreatedAt.Before(since)
	}), nil
}

// ListScheduleJobs returns the jobs spawned by a weekly schedule.
func (s *Store) ListScheduleJobs(_ context.Context, scheduleID int64) ([]crawler.CrawlJob, error) {
	return s.filterJobs(func(j crawler.CrawlJob) bool {
		return j.ScheduleID != nil && *j.ScheduleID == scheduleID
	}), nil
}

// ListJobsSince returns every job created at or after since.
func (s *Store) ListJobsSince(_ context.Context, since time.Time) ([]crawler.CrawlJob, error) {
	return s.filterJobs(func(j crawler.CrawlJob) bool {
		return !j.CreatedAt.Before(since)
	}), nil
}

func (s *Store) filterJobs(keep func(crawler.CrawlJob) bool) []crawler.CrawlJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.CrawlJob
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneRequest(req crawler.JobRequest) crawler.JobRequest {
	cp := crawler.JobRequest{URLs: append([]string(nil), req.URLs...)}
	if req.Params != nil {
		cp.Params = make(map[string]any, len(req.Params))
		for k, v := range req.Params {
			cp.Params[k] = v
		}
	}
	return cp
}
