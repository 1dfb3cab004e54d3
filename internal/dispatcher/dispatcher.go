// Package dispatcher fans sweep work out to a bounded pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/queue/memory"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/worker"
)

// DefaultWorkers is used when Config.Workers is not positive.
const DefaultWorkers = 4

// Config controls the worker pool.
type Config struct {
	Workers int
}

// JobError records one job whose processing returned an error.
type JobError struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// Summary aggregates the outcomes of one Drain.
type Summary struct {
	Processed int              `json:"processed"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Pending   int              `json:"pending"`
	Errors    []JobError       `json:"errors,omitempty"`
	Outcomes  []worker.Outcome `json:"outcomes,omitempty"`
}

// Dispatcher runs a worker pool over a fixed batch of jobs.
type Dispatcher struct {
	processor worker.JobProcessor
	workers   int
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(processor worker.JobProcessor, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Dispatcher{
		processor: processor,
		workers:   cfg.Workers,
		logger:    logger.Named("dispatcher"),
	}
}

// Drain processes every job and blocks until all are done or ctx finishes.
// One job's failure never prevents the others from being processed.
func (d *Dispatcher) Drain(ctx context.Context, jobs []crawler.CrawlJob) (Summary, error) {
	var summary Summary
	if len(jobs) == 0 {
		return summary, nil
	}

	queue := memory.NewQueue(len(jobs))
	now := time.Now().UTC()
	for _, job := range jobs {
		if err := queue.Enqueue(ctx, crawler.QueueItem{Job: job, Enqueued: now}); err != nil {
			queue.Close()
			return summary, fmt.Errorf("queue enqueue: %w", err)
		}
	}
	queue.Close()

	var mu sync.Mutex
	report := func(out worker.Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.add(out, err)
	}

	workers := min(d.workers, len(jobs))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		w := worker.New(queue, d.processor, report, d.logger.With(zap.Int("worker", i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()

	sort.Slice(summary.Outcomes, func(i, j int) bool {
		return summary.Outcomes[i].JobID < summary.Outcomes[j].JobID
	})
	d.logger.Info("sweep drained",
		zap.Int("jobs", len(jobs)),
		zap.Int("processed", summary.Processed),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", len(summary.Errors)),
	)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("drain interrupted: %w", err)
	}
	return summary, nil
}

func (s *Summary) add(out worker.Outcome, err error) {
	s.Processed++
	s.Outcomes = append(s.Outcomes, out)
	if err != nil {
		s.Errors = append(s.Errors, JobError{JobID: out.JobID, Error: err.Error()})
	}
	switch out.Status {
	case crawler.JobStatusCompleted:
		s.Completed++
	case crawler.JobStatusFailed:
		s.Failed++
	default:
		s.Pending++
	}
}
