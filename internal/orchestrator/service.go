// Package orchestrator is the service facade shared by the scheduler, the
// HTTP API and the CLI. It batches weekly crawls, sweeps outstanding jobs and
// answers on-demand job, mapping and metrics queries.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/integrator"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/worker"
)

// DefaultSweepWindow bounds how far back a sweep looks for unfinished jobs.
const DefaultSweepWindow = 7 * 24 * time.Hour

// NoMappingsNote is recorded on weekly schedules that had nothing to crawl.
const NoMappingsNote = "No active mappings found"

// Integrator folds a job's pending results into daily metrics.
type Integrator interface {
	IntegrateJob(ctx context.Context, jobID string) (integrator.Report, error)
}

// Completer ingests a completed provider snapshot on demand.
type Completer interface {
	Fail(ctx context.Context, job crawler.CrawlJob, reason string) (crawler.CrawlJob, error)
	Complete(ctx context.Context, job crawler.CrawlJob, format crawler.ResultFormat, integrate bool) (worker.Completion, error)
}

// Drainer fans a batch of jobs out to workers.
type Drainer interface {
	Drain(ctx context.Context, jobs []crawler.CrawlJob) (dispatcher.Summary, error)
}

// Config holds the service's tunables.
type Config struct {
	// Location is the business time zone used for "today" and week starts.
	Location    *time.Location
	SweepWindow time.Duration
}

// Service implements every exposed orchestration operation.
type Service struct {
	store      crawler.Store
	provider   crawler.Provider
	completer  Completer
	drainer    Drainer
	integrator Integrator
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Service.
func New(
	store crawler.Store,
	provider crawler.Provider,
	completer Completer,
	drainer Drainer,
	integ Integrator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SweepWindow <= 0 {
		cfg.SweepWindow = DefaultSweepWindow
	}
	return &Service{
		store:      store,
		provider:   provider,
		completer:  completer,
		drainer:    drainer,
		integrator: integ,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
	}
}

// Location returns the business time zone.
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

func (s *Service) today() time.Time {
	return crawler.DateOf(s.clock.Now(), s.cfg.Location)
}

func (s *Service) currentWeek() time.Time {
	return crawler.WeekStart(s.clock.Now(), s.cfg.Location)
}
