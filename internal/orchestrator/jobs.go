package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/integrator"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/worker"
)

// JobStatusReport combines the provider's view of a job with the ledger's.
type JobStatusReport struct {
	JobID    string                 `json:"job_id"`
	Provider crawler.SnapshotStatus `json:"provider"`
	Job      *crawler.CrawlJob      `json:"job,omitempty"`
}

// JobResultsReport carries a completed job's stored rows.
type JobResultsReport struct {
	Job         crawler.CrawlJob      `json:"job"`
	Inserted    int                   `json:"inserted"`
	Results     []crawler.CrawlResult `json:"results"`
	Integration *integrator.Report    `json:"integration,omitempty"`
}

// TriggerCrawl starts an on-demand crawl of urls on platform.
func (s *Service) TriggerCrawl(
	ctx context.Context,
	platformName string,
	urls []string,
	params map[string]any,
) (crawler.CrawlJob, error) {
	platform, err := crawler.ParsePlatform(platformName)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	cleaned := cleanURLs(urls)
	if len(cleaned) == 0 {
		return crawler.CrawlJob{}, fmt.Errorf("%w: at least one url is required", crawler.ErrInvalidParams)
	}
	typed, err := crawler.DecodeParams(platform, params)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	job, err := s.triggerGroup(ctx, platformGroup{platform: platform, params: typed, urls: cleaned}, nil)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	s.logger.Info("crawl triggered",
		zap.String("job_id", job.ID),
		zap.String("platform", string(platform)),
		zap.Int("urls", len(cleaned)),
	)
	return job, nil
}

// JobStatus polls the provider for jobID. Running and failed states are
// persisted; completion is only persisted once results are ingested.
func (s *Service) JobStatus(ctx context.Context, jobID string) (JobStatusReport, error) {
	report := JobStatusReport{JobID: jobID}
	status, err := s.provider.PollStatus(ctx, jobID)
	if err != nil {
		return report, fmt.Errorf("poll job %s: %w", jobID, err)
	}
	report.Provider = status

	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, crawler.ErrJobNotFound) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("get job %s: %w", jobID, err)
	}

	switch {
	case status.State == crawler.ProviderStateRunning && job.Status == crawler.JobStatusTriggered:
		updated, err := s.store.TransitionJob(ctx, jobID, crawler.JobTransition{
			Status: crawler.JobStatusRunning,
			At:     s.clock.Now(),
		})
		if err != nil {
			return report, fmt.Errorf("mark job %s running: %w", jobID, err)
		}
		job = updated
	case status.State == crawler.ProviderStateFailed && !job.Status.Terminal():
		updated, err := s.completer.Fail(ctx, job, worker.ProviderFailedMessage)
		if err != nil {
			return report, err
		}
		job = updated
	}
	report.Job = &job
	return report, nil
}

// JobResults returns the stored rows of a completed job. A job the ledger has
// not completed yet is polled and, when ready, ingested first.
func (s *Service) JobResults(
	ctx context.Context,
	jobID string,
	autoIntegrate bool,
	format crawler.ResultFormat,
) (JobResultsReport, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return JobResultsReport{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	report := JobResultsReport{Job: job}

	switch job.Status {
	case crawler.JobStatusFailed:
		return report, fmt.Errorf("%w: job %s failed: %s", crawler.ErrJobNotCompleted, jobID, job.ErrorText)
	case crawler.JobStatusCompleted:
		if autoIntegrate && s.integrator != nil {
			integration, err := s.integrator.IntegrateJob(ctx, jobID)
			if err != nil {
				return report, fmt.Errorf("integrate job %s: %w", jobID, err)
			}
			report.Integration = &integration
		}
	default:
		status, err := s.provider.PollStatus(ctx, jobID)
		if err != nil {
			return report, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		if status.State != crawler.ProviderStateCompleted {
			return report, fmt.Errorf("%w: provider reports %s", crawler.ErrJobNotCompleted, status.State)
		}
		done, err := s.completer.Complete(ctx, job, format, autoIntegrate)
		if err != nil {
			return report, err
		}
		report.Job = done.Job
		report.Inserted = done.Inserted
		report.Integration = done.Integration
	}

	results, err := s.store.ListResults(ctx, jobID)
	if err != nil {
		return report, fmt.Errorf("list results of %s: %w", jobID, err)
	}
	report.Results = results
	return report, nil
}

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, crawler.ErrNotFound)
}

// ListJobs returns jobs created at or after since, defaulting to the sweep window.
func (s *Service) ListJobs(ctx context.Context, since *time.Time) ([]crawler.CrawlJob, error) {
	from := s.clock.Now().Add(-s.cfg.SweepWindow)
	if since != nil {
		from = *since
	}
	jobs, err := s.store.ListJobsSince(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("list jobs since %s: %w", from.Format(time.RFC3339), err)
	}
	if jobs == nil {
		jobs = []crawler.CrawlJob{}
	}
	return jobs, nil
}
