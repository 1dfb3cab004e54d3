// Package worker advances crawl jobs: it polls the provider and, once a
// snapshot is ready, ingests and integrates its rows.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/metrics"
)

// JobProcessor handles one job.
type JobProcessor interface {
	Process(ctx context.Context, job crawler.CrawlJob) (Outcome, error)
}

// ReportFunc receives the result of every processed job.
type ReportFunc func(Outcome, error)

// Worker consumes queue items and hands each job to a JobProcessor.
type Worker struct {
	queue     crawler.Queue
	processor JobProcessor
	report    ReportFunc
	logger    *zap.Logger
}

// New constructs a Worker. report may be nil.
func New(queue crawler.Queue, processor JobProcessor, report ReportFunc, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		processor: processor,
		report:    report,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the queue closes or the context finishes.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.Job.ID))
		w.handle(ctx, item)
	}
}

// handle isolates a job so a panic in one cannot stop the others.
func (w *Worker) handle(ctx context.Context, item crawler.QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic processing job %s: %v", item.Job.ID, r)
			w.logger.Error("job processing panicked", zap.String("job_id", item.Job.ID), zap.Any("panic", r))
			w.emit(Outcome{JobID: item.Job.ID, Platform: item.Job.Platform, Status: item.Job.Status}, err)
		}
	}()
	out, err := w.processor.Process(ctx, item.Job)
	if err != nil {
		w.logger.Warn("job processing failed", zap.String("job_id", item.Job.ID), zap.Error(err))
	}
	w.emit(out, err)
}

func (w *Worker) emit(out Outcome, err error) {
	if w.report != nil {
		w.report(out, err)
	}
}
