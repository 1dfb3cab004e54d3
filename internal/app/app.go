// Package app initializes and holds the long-lived services of the
// orchestrator, acting as its dependency injection container. Components
// are built once by New and share one lifecycle through Start and Stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/api"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/clock/system"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/config"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/database"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/integrator"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/metrics"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/normalize"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/policy/ratelimit"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/provider/brightdata"
	memorypublisher "github.com/JakeFAU/social-crawl-orchestrator/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/social-crawl-orchestrator/internal/publisher/pubsub"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/scheduler"
	gcsstorage "github.com/JakeFAU/social-crawl-orchestrator/internal/storage/gcs"
	localstorage "github.com/JakeFAU/social-crawl-orchestrator/internal/storage/local"
	memorystorage "github.com/JakeFAU/social-crawl-orchestrator/internal/storage/memory"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/storage/postgres"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/worker"
)

const readHeaderTimeout = 5 * time.Second

// Overrides replaces components New would otherwise build from config.
// Nil fields fall back to the configured implementation.
type Overrides struct {
	Store     crawler.Store
	Provider  crawler.Provider
	BlobStore crawler.BlobStore
	Publisher crawler.Publisher
	Clock     crawler.Clock
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.Store
	service   *orchestrator.Service
	scheduler *scheduler.Scheduler
	server    *api.Server

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	serveErr chan error
	closers  []func() error
}

// New builds every component described by cfg. On error, anything already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, overrides Overrides) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx, overrides); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, overrides Overrides) error {
	cfg, logger := a.cfg, a.logger

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clock := overrides.Clock
	if clock == nil {
		clock = system.New(loc)
	}

	store, ready, err := a.buildStore(ctx, overrides.Store)
	if err != nil {
		return err
	}
	a.store = store

	provider := overrides.Provider
	if provider == nil {
		provider, err = brightdata.New(brightdata.Config{
			BaseURL:        cfg.Provider.BaseURL,
			APIToken:       cfg.Provider.APIToken,
			Datasets:       cfg.ProviderDatasets(),
			TriggerTimeout: cfg.Provider.TriggerTimeout,
			PollTimeout:    cfg.Provider.PollTimeout,
			FetchTimeout:   cfg.Provider.FetchTimeout,
			Limiter: ratelimit.New(ratelimit.Config{
				RPS:   cfg.Provider.RequestsPerSecond,
				Burst: cfg.Provider.Burst,
			}),
		}, logger.Named("provider"))
		if err != nil {
			return fmt.Errorf("init provider: %w", err)
		}
	}

	blobs := overrides.BlobStore
	if blobs == nil {
		blobs, err = a.buildBlobStore(ctx)
		if err != nil {
			return err
		}
	}

	publisher := overrides.Publisher
	if publisher == nil {
		publisher, err = a.buildPublisher(ctx)
		if err != nil {
			return err
		}
	}

	integ := integrator.New(store, clock, loc, logger.Named("integrator"))
	processor := worker.NewProcessor(
		provider,
		store,
		normalize.New(),
		integ,
		blobs,
		publisher,
		&sha256.Hasher{Length: cfg.Storage.HashLength},
		clock,
		uuid.New(),
		worker.Config{
			BlobPrefix: cfg.Storage.Prefix,
			Topic:      cfg.PubSub.TopicName,
			Format:     cfg.ResultFormat(),
		},
		logger.Named("worker"),
	)
	drain := dispatcher.New(processor, dispatcher.Config{Workers: cfg.Schedule.SweepConcurrency}, logger.Named("dispatcher"))
	a.service = orchestrator.New(
		store,
		provider,
		processor,
		drain,
		integ,
		clock,
		orchestrator.Config{Location: loc, SweepWindow: cfg.Schedule.SweepWindow},
		logger.Named("orchestrator"),
	)

	a.scheduler, err = scheduler.New(a.service, scheduler.Config{
		WeeklySpec: cfg.Schedule.WeeklyCron,
		SweepSpec:  cfg.Schedule.SweepCron,
		Location:   loc,
		RunTimeout: cfg.Schedule.RunTimeout,
	}, logger)
	if err != nil {
		return err
	}

	a.server = api.NewServer(a.service, ready, cfg, logger)
	logger.Info("application services initialized",
		zap.String("timezone", loc.String()),
		zap.String("blob_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != "" && overrides.Store == nil),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
	)
	return nil
}

func (a *App) buildStore(ctx context.Context, override crawler.Store) (crawler.Store, api.ReadinessCheck, error) {
	if override != nil {
		return override, nil, nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("db.dsn not set, using in-memory store")
		return memorystorage.NewStore(), nil, nil
	}
	if a.cfg.DB.AutoMigrate {
		if err := database.MigrateUp(a.cfg.DB.DSN, a.logger.Named("migrate")); err != nil {
			return nil, nil, err
		}
	}
	store, err := postgres.NewStore(ctx, database.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres store: %w", err)
	}
	a.addCloser(func() error {
		store.Close()
		return nil
	})
	return store, store.Ping, nil
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BlobBackendMemory:
		return memorystorage.NewBlobStore(), nil
	case config.BlobBackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return blobs, nil
	case config.BlobBackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("init gcs blob store: %w", err), client.Close())
		}
		a.addCloser(blobs.Close)
		return blobs, nil
	default:
		return nil, nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("init pubsub publisher: %w", err), client.Close())
	}
	a.addCloser(pub.Close)
	return pub, nil
}

func (a *App) addCloser(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Service returns the orchestration facade.
func (a *App) Service() *orchestrator.Service {
	return a.service
}

// Scheduler returns the cron scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Addr reports the HTTP listen address once Start has run.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Start binds the HTTP listener, begins serving, and starts the scheduler
// when enabled. Serve errors are delivered on Done.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpSrv != nil {
		return errors.New("app already started")
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	a.listener = ln
	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	a.serveErr = make(chan error, 1)
	go func(srv *http.Server, errs chan<- error) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}(a.httpSrv, a.serveErr)
	a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))

	if a.cfg.Schedule.Enabled {
		a.scheduler.Start(ctx)
	}
	return nil
}

// Done yields a serve error, or closes once the server has stopped. It is
// nil before Start.
func (a *App) Done() <-chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serveErr
}

// Stop drains the HTTP server, stops the scheduler and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpSrv
	a.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("application services stopped")
	return errors.Join(errs...)
}

// Close releases clients and pools in reverse order of creation. It is safe
// to call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
