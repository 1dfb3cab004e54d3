// Package scheduler runs the weekly batch and the completion sweep on cron
// timers with an explicit Start/Stop lifecycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/orchestrator"
)

// Default cron specs: Mondays at 09:00 and hourly on the hour.
const (
	DefaultWeeklySpec = "0 9 * * 1"
	DefaultSweepSpec  = "0 * * * *"
	DefaultRunTimeout = 30 * time.Minute
)

// Action names used in logs and entries.
const (
	ActionWeekly = "weekly"
	ActionSweep  = "sweep"
)

// Runner performs the scheduled actions.
type Runner interface {
	TriggerWeeklyCrawl(ctx context.Context) (orchestrator.WeeklyOutcome, error)
	SweepJobs(ctx context.Context) (orchestrator.SweepReport, error)
}

// Config controls the timers.
type Config struct {
	WeeklySpec string
	SweepSpec  string
	Location   *time.Location
	// RunTimeout bounds each scheduled run.
	RunTimeout time.Duration
}

// Entry describes one registered action.
type Entry struct {
	Action string    `json:"action"`
	Spec   string    `json:"spec"`
	Next   time.Time `json:"next"`
	Prev   time.Time `json:"prev"`
}

// Scheduler owns a cron instance and the context its runs derive from.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	cfg     Config
	logger  *zap.Logger
	entries map[string]cron.EntryID

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New validates the specs and registers both actions. Nothing runs until Start.
func New(runner Runner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WeeklySpec == "" {
		cfg.WeeklySpec = DefaultWeeklySpec
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = DefaultSweepSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	logger = logger.Named("scheduler")

	cl := cronLogger{logger: logger}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]cron.EntryID, 2),
		ctx:     context.Background(),
	}

	jobs := map[string]struct {
		spec string
		run  func(context.Context) error
	}{
		ActionWeekly: {cfg.WeeklySpec, s.RunWeekly},
		ActionSweep:  {cfg.SweepSpec, s.RunSweep},
	}
	for action, job := range jobs {
		run := job.run
		id, err := s.cron.AddFunc(job.spec, func() {
			_ = run(s.baseContext())
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", action, job.spec, err)
		}
		s.entries[action] = id
	}
	return s, nil
}

// Start begins firing timers. Runs derive from ctx and are canceled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("weekly_spec", s.cfg.WeeklySpec),
		zap.String("sweep_spec", s.cfg.SweepSpec),
		zap.String("location", s.cfg.Location.String()),
	)
}

// Stop cancels in-flight runs and waits for them, or for ctx, to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Entries lists the registered actions with their next fire times.
func (s *Scheduler) Entries() []Entry {
	specs := map[string]string{ActionWeekly: s.cfg.WeeklySpec, ActionSweep: s.cfg.SweepSpec}
	out := make([]Entry, 0, len(s.entries))
	for action, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{Action: action, Spec: specs[action], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// RunWeekly triggers the weekly batch once, bounded by the run timeout.
func (s *Scheduler) RunWeekly(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	out, err := s.runner.TriggerWeeklyCrawl(ctx)
	if err != nil {
		s.logger.Error("scheduled weekly crawl failed", zap.Error(err))
		return fmt.Errorf("weekly crawl: %w", err)
	}
	s.logger.Info("scheduled weekly crawl finished",
		zap.Int64("schedule_id", out.Schedule.ID),
		zap.Bool("already_scheduled", out.AlreadyScheduled),
		zap.Int("jobs", len(out.Jobs)),
		zap.Int("failures", len(out.Failures)),
	)
	return nil
}

// RunSweep runs the completion sweep once, bounded by the run timeout.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	report, err := s.runner.SweepJobs(ctx)
	if err != nil {
		s.logger.Error("scheduled sweep failed", zap.Error(err))
		return fmt.Errorf("sweep: %w", err)
	}
	s.logger.Debug("scheduled sweep finished",
		zap.Int("jobs", report.Jobs),
		zap.Int("schedules_closed", report.SchedulesClosed),
	)
	return nil
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
