// Package integrator folds normalized crawl results into per-business daily metrics.
package integrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/metrics"
)

// Store is the persistence the integrator reads and writes.
type Store interface {
	crawler.MappingStore
	crawler.ResultStore
	crawler.MetricsStore
}

// Report summarizes one integration pass over a job.
type Report struct {
	JobID      string   `json:"job_id"`
	Integrated int      `json:"integrated"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// Integrator applies pending results of a job to DailyMetrics.
type Integrator struct {
	store  Store
	clock  crawler.Clock
	loc    *time.Location
	logger *zap.Logger
}

// New constructs an Integrator. loc is the business time zone used for "today".
func New(store Store, clock crawler.Clock, loc *time.Location, logger *zap.Logger) *Integrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Integrator{
		store:  store,
		clock:  clock,
		loc:    loc,
		logger: logger.Named("integrator"),
	}
}

// IntegrateJob processes every pending result of jobID. Rows without an active
// mapping are skipped and stay pending; a failing row does not stop the rest.
func (i *Integrator) IntegrateJob(ctx context.Context, jobID string) (Report, error) {
	report := Report{JobID: jobID}
	pending, err := i.store.ListPendingResults(ctx, jobID)
	if err != nil {
		return report, fmt.Errorf("list pending results: %w", err)
	}
	now := i.clock.Now()
	day := crawler.DateOf(now, i.loc)

	for _, r := range pending {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("integrate job %s: %w", jobID, err)
		}
		integrated, err := i.integrateRow(ctx, r, now, day)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("result %d: %v", r.ID, err))
			i.logger.Warn("integrate result failed",
				zap.String("job_id", jobID),
				zap.Int64("result_id", r.ID),
				zap.Error(err),
			)
			metrics.ObserveResults(string(r.Platform), "integration_failed", 1)
		case integrated:
			report.Integrated++
			metrics.ObserveResults(string(r.Platform), "integrated", 1)
		default:
			report.Skipped++
			metrics.ObserveResults(string(r.Platform), "skipped", 1)
		}
	}

	i.logger.Info("job integrated",
		zap.String("job_id", jobID),
		zap.Int("integrated", report.Integrated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (i *Integrator) integrateRow(ctx context.Context, r crawler.CrawlResult, now, day time.Time) (bool, error) {
	mapping, err := i.store.FindActiveMapping(ctx, r.SourceURL, r.Platform)
	if errors.Is(err, crawler.ErrNotFound) {
		i.logger.Info("no active mapping for result",
			zap.String("job_id", r.JobID),
			zap.String("source_url", r.SourceURL),
			zap.String("platform", string(r.Platform)),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find mapping: %w", err)
	}

	if update := UpdateFor(r); !update.Empty() {
		if _, err := i.store.ApplyMetrics(ctx, mapping.BusinessID, day, now, update); err != nil {
			return false, fmt.Errorf("apply metrics: %w", err)
		}
	}
	if err := i.store.MarkResultIntegrated(ctx, r.ID); err != nil {
		return false, fmt.Errorf("mark integrated: %w", err)
	}
	if err := i.store.MarkMappingCrawled(ctx, mapping.ID, now); err != nil {
		return false, fmt.Errorf("stamp mapping: %w", err)
	}
	return true, nil
}

// UpdateFor maps a result's normalized fields onto the platform's metric
// columns. Absent and non-positive values are left out.
func UpdateFor(r crawler.CrawlResult) crawler.MetricsUpdate {
	var u crawler.MetricsUpdate
	switch r.Platform {
	case crawler.PlatformInstagram:
		u.FollowersInstagram = positive(r.Followers)
	case crawler.PlatformFacebook:
		u.FansFacebook = positive(r.Followers)
		u.ReviewsFacebook = positive(r.Reviews)
	case crawler.PlatformGoogleMaps:
		u.ReviewsGoogle = positive(r.Reviews)
		if r.Rating != nil && *r.Rating > 0 {
			v := *r.Rating
			u.RatingGoogle = &v
		}
	}
	return u
}

func positive(v *int64) *int64 {
	if v == nil || *v <= 0 {
		return nil
	}
	n := *v
	return &n
}
