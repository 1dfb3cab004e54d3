package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/integrator"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/metrics"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/normalize"
)

// ProviderFailedMessage is recorded on jobs the provider reports as failed.
const ProviderFailedMessage = "provider reported job failed"

// Store is the persistence a Processor writes through.
type Store interface {
	crawler.JobLedger
	crawler.ResultStore
}

// Integrator folds a job's pending results into daily metrics.
type Integrator interface {
	IntegrateJob(ctx context.Context, jobID string) (integrator.Report, error)
}

// Config controls Processor behavior.
type Config struct {
	BlobPrefix string
	Topic      string
	Format     crawler.ResultFormat
}

// Outcome describes what one Process call observed and persisted.
type Outcome struct {
	JobID         string                `json:"job_id"`
	Platform      crawler.Platform      `json:"platform"`
	ProviderState crawler.ProviderState `json:"provider_state,omitempty"`
	Status        crawler.JobStatus     `json:"status"`
	Ingested      int                   `json:"ingested"`
	Integration   *integrator.Report    `json:"integration,omitempty"`
}

// Completion is the result of ingesting a completed snapshot.
type Completion struct {
	Job         crawler.CrawlJob
	Rows        int
	Inserted    int
	Integration *integrator.Report
}

// Processor advances a single job: poll, then on completion fetch, archive,
// ingest, integrate and publish.
type Processor struct {
	provider   crawler.Provider
	store      Store
	normalizer *normalize.Normalizer
	integrator Integrator
	blobs      crawler.BlobStore
	publisher  crawler.Publisher
	hasher     crawler.Hasher
	clock      crawler.Clock
	ids        crawler.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// NewProcessor constructs a Processor. blobs, publisher and ids may be nil,
// which disables archiving and event publishing.
func NewProcessor(
	provider crawler.Provider,
	store Store,
	normalizer *normalize.Normalizer,
	integ Integrator,
	blobs crawler.BlobStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = normalize.New()
	}
	if cfg.Format == "" {
		cfg.Format = crawler.FormatJSON
	}
	return &Processor{
		provider:   provider,
		store:      store,
		normalizer: normalizer,
		integrator: integ,
		blobs:      blobs,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger.Named("processor"),
	}
}

// Process polls job once and persists whatever the provider reports.
func (p *Processor) Process(ctx context.Context, job crawler.CrawlJob) (Outcome, error) {
	out := Outcome{JobID: job.ID, Platform: job.Platform, Status: job.Status}
	status, err := p.provider.PollStatus(ctx, job.ID)
	if err != nil {
		return out, fmt.Errorf("poll job %s: %w", job.ID, err)
	}
	out.ProviderState = status.State

	switch status.State {
	case crawler.ProviderStateNotFound:
		p.logger.Debug("job not visible at provider yet", zap.String("job_id", job.ID))
		return out, nil

	case crawler.ProviderStateRunning:
		if job.Status != crawler.JobStatusTriggered {
			return out, nil
		}
		updated, err := p.store.TransitionJob(ctx, job.ID, crawler.JobTransition{
			Status: crawler.JobStatusRunning,
			At:     p.clock.Now(),
		})
		if err != nil {
			return out, fmt.Errorf("mark job %s running: %w", job.ID, err)
		}
		out.Status = updated.Status
		return out, nil

	case crawler.ProviderStateFailed:
		updated, err := p.Fail(ctx, job, ProviderFailedMessage)
		if err != nil {
			return out, err
		}
		out.Status = updated.Status
		return out, nil

	case crawler.ProviderStateCompleted:
		snap, err := p.provider.FetchResults(ctx, job.ID, p.cfg.Format)
		if errors.Is(err, crawler.ErrJobNotCompleted) {
			p.logger.Info("snapshot reported ready but rows are not", zap.String("job_id", job.ID))
			return out, nil
		}
		if err != nil {
			if updated, failErr := p.Fail(ctx, job, err.Error()); failErr == nil {
				out.Status = updated.Status
			}
			return out, fmt.Errorf("fetch results of %s: %w", job.ID, err)
		}
		done, err := p.Ingest(ctx, job, snap, true)
		out.Status = done.Job.Status
		out.Ingested = done.Inserted
		out.Integration = done.Integration
		return out, err
	}
	return out, fmt.Errorf("unknown provider state %q for job %s", status.State, job.ID)
}

// Complete downloads the snapshot of a completed job and ingests it. A
// fetch that fails for any reason other than rows not being ready yet marks
// the job failed.
func (p *Processor) Complete(
	ctx context.Context,
	job crawler.CrawlJob,
	format crawler.ResultFormat,
	integrate bool,
) (Completion, error) {
	if format == "" {
		format = p.cfg.Format
	}
	snap, err := p.provider.FetchResults(ctx, job.ID, format)
	if errors.Is(err, crawler.ErrJobNotCompleted) {
		return Completion{Job: job}, fmt.Errorf("fetch results of %s: %w", job.ID, err)
	}
	if err != nil {
		if updated, failErr := p.Fail(ctx, job, err.Error()); failErr == nil {
			job = updated
		}
		return Completion{Job: job}, fmt.Errorf("fetch results of %s: %w", job.ID, err)
	}
	return p.Ingest(ctx, job, snap, integrate)
}

// Ingest archives snap, stores its rows, marks the job completed and
// optionally integrates it. Re-ingesting the same snapshot inserts nothing.
func (p *Processor) Ingest(
	ctx context.Context,
	job crawler.CrawlJob,
	snap crawler.Snapshot,
	integrate bool,
) (Completion, error) {
	now := p.clock.Now()
	done := Completion{Job: job, Rows: len(snap.Rows)}
	archiveURI := p.archive(ctx, job, snap)

	results := make([]crawler.CrawlResult, 0, len(snap.Rows))
	for i, row := range snap.Rows {
		n := p.normalizer.Normalize(job.Platform, row)
		r := crawler.CrawlResult{
			JobID:       job.ID,
			RowIndex:    i,
			SourceURL:   n.SourceURL,
			Platform:    job.Platform,
			Raw:         row,
			ExtractedAt: now,
			Processed:   crawler.ResultPending,
			Followers:   n.Followers,
			Posts:       n.Posts,
			Reviews:     n.Reviews,
			Rating:      n.Rating,
			ErrorText:   n.Error,
		}
		if n.Error != "" {
			r.Processed = crawler.ResultFailed
		}
		results = append(results, r)
	}
	inserted, err := p.store.SaveResults(ctx, results)
	if err != nil {
		return done, fmt.Errorf("save results of %s: %w", job.ID, err)
	}
	done.Inserted = inserted
	metrics.ObserveResults(string(job.Platform), "ingested", inserted)

	if job.Status != crawler.JobStatusCompleted {
		updated, err := p.store.TransitionJob(ctx, job.ID, crawler.JobTransition{
			Status:      crawler.JobStatusCompleted,
			At:          now,
			ResultCount: len(snap.Rows),
			ArchiveURI:  archiveURI,
		})
		switch {
		case err == nil:
			done.Job = updated
			metrics.ObserveJobFinished(string(job.Platform), string(crawler.JobStatusCompleted))
		case errors.Is(err, crawler.ErrInvalidTransition):
			p.logger.Warn("job already finished elsewhere", zap.String("job_id", job.ID), zap.Error(err))
			if current, getErr := p.store.GetJob(ctx, job.ID); getErr == nil {
				done.Job = current
			}
		default:
			return done, fmt.Errorf("mark job %s completed: %w", job.ID, err)
		}
	}

	if integrate && p.integrator != nil {
		report, err := p.integrator.IntegrateJob(ctx, job.ID)
		if err != nil {
			return done, fmt.Errorf("integrate job %s: %w", job.ID, err)
		}
		done.Integration = &report
	}

	p.logger.Info("job ingested",
		zap.String("job_id", job.ID),
		zap.String("platform", string(job.Platform)),
		zap.Int("rows", len(snap.Rows)),
		zap.Int("inserted", inserted),
		zap.String("archive_uri", archiveURI),
	)
	p.publish(ctx, done.Job, done.Integration)
	return done, nil
}

// Fail marks job failed with reason.
func (p *Processor) Fail(ctx context.Context, job crawler.CrawlJob, reason string) (crawler.CrawlJob, error) {
	updated, err := p.store.TransitionJob(ctx, job.ID, crawler.JobTransition{
		Status:    crawler.JobStatusFailed,
		At:        p.clock.Now(),
		ErrorText: reason,
	})
	if err != nil {
		return job, fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	metrics.ObserveJobFinished(string(job.Platform), string(crawler.JobStatusFailed))
	p.logger.Warn("job failed", zap.String("job_id", job.ID), zap.String("reason", reason))
	p.publish(ctx, updated, nil)
	return updated, nil
}

// archive stores the raw snapshot; failures are logged and yield an empty URI.
func (p *Processor) archive(ctx context.Context, job crawler.CrawlJob, snap crawler.Snapshot) string {
	if p.blobs == nil || p.hasher == nil {
		return ""
	}
	body := snap.Body
	contentType := snap.ContentType
	if len(body) == 0 {
		encoded, err := json.Marshal(snap.Rows)
		if err != nil {
			p.logger.Warn("encode snapshot for archive", zap.String("job_id", job.ID), zap.Error(err))
			return ""
		}
		body, contentType = encoded, "application/json"
	}
	digest, err := p.hasher.Hash(body)
	if err != nil {
		p.logger.Warn("hash snapshot", zap.String("job_id", job.ID), zap.Error(err))
		return ""
	}
	uri, err := p.blobs.PutObject(ctx, p.archivePath(job, digest, snap.Format), contentType, body)
	if err != nil {
		p.logger.Warn("archive snapshot", zap.String("job_id", job.ID), zap.Error(err))
		return ""
	}
	return uri
}

func (p *Processor) archivePath(job crawler.CrawlJob, digest string, format crawler.ResultFormat) string {
	if format == "" {
		format = crawler.FormatJSON
	}
	name := fmt.Sprintf("%s.%s", digest, format)
	prefix := strings.Trim(p.cfg.BlobPrefix, "/")
	return path.Join(prefix, string(job.Platform), job.ID, name)
}

func (p *Processor) publish(ctx context.Context, job crawler.CrawlJob, report *integrator.Report) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	ev := crawler.JobEvent{
		JobID:       job.ID,
		Platform:    job.Platform,
		Status:      job.Status,
		ResultCount: job.ResultCount,
		ArchiveURI:  job.ArchiveURI,
		OccurredAt:  p.clock.Now(),
	}
	if report != nil {
		ev.Integrated = report.Integrated
		ev.Skipped = report.Skipped
	}
	if p.ids != nil {
		id, err := p.ids.NewID()
		if err != nil {
			p.logger.Warn("generate event id", zap.String("job_id", job.ID), zap.Error(err))
		}
		ev.EventID = id
	}
	msgID, err := p.publisher.Publish(ctx, p.cfg.Topic, ev)
	if err != nil {
		p.logger.Warn("publish job event", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	p.logger.Debug("job event published", zap.String("job_id", job.ID), zap.String("message_id", msgID))
}
