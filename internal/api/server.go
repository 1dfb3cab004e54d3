package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/config"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/metrics"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/middleware"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/orchestrator"
)

const defaultRequestTimeout = 120 * time.Second

// Service is the orchestration surface the handlers call.
type Service interface {
	TriggerWeeklyCrawl(ctx context.Context) (orchestrator.WeeklyOutcome, error)
	WeeklyCrawlStatus(ctx context.Context, weekStart *time.Time) (orchestrator.WeeklyStatus, error)
	TriggerCrawl(ctx context.Context, platform string, urls []string, params map[string]any) (crawler.CrawlJob, error)
	ListJobs(ctx context.Context, since *time.Time) ([]crawler.CrawlJob, error)
	JobStatus(ctx context.Context, jobID string) (orchestrator.JobStatusReport, error)
	JobResults(
		ctx context.Context,
		jobID string,
		autoIntegrate bool,
		format crawler.ResultFormat,
	) (orchestrator.JobResultsReport, error)
	CreateSocialMappings(
		ctx context.Context,
		businessID int64,
		inputs []orchestrator.MappingInput,
	) (orchestrator.MappingBatch, error)
	ListSocialMappings(ctx context.Context, businessID int64) ([]crawler.SocialMapping, error)
	DailyMetrics(ctx context.Context, businessID int64, day *time.Time) (crawler.DailyMetrics, error)
	SweepJobs(ctx context.Context) (orchestrator.SweepReport, error)
}

// ReadinessCheck reports whether downstream dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the orchestration service.
type Server struct {
	router  chi.Router
	service Service
	ready   ReadinessCheck
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(service Service, ready ReadinessCheck, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		service: service,
		ready:   ready,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(middleware.APIKey(cfg.Auth.APIKey))
		}
		r.Use(middleware.Timeout(timeout))

		r.Route("/weekly-crawl", func(r chi.Router) {
			r.Post("/", s.triggerWeeklyCrawl)
			r.Get("/", s.weeklyCrawlStatus)
		})
		r.Post("/sweeps", s.sweepJobs)
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.triggerCrawl)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.jobStatus)
				r.Get("/results", s.jobResults)
			})
		})
		r.Route("/businesses/{business_id}", func(r chi.Router) {
			r.Post("/mappings", s.createMappings)
			r.Get("/mappings", s.listMappings)
			r.Get("/metrics", s.dailyMetrics)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			middleware.WriteError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
