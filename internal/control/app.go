// Package control wires the service together and manages its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/noteably/internal/api"
	"github.com/vietddude/noteably/internal/core/config"
	"github.com/vietddude/noteably/internal/core/pipeline"
	"github.com/vietddude/noteably/internal/core/retry"
	"github.com/vietddude/noteably/internal/core/worker"
	"github.com/vietddude/noteably/internal/health"
	"github.com/vietddude/noteably/internal/infra/generation"
	"github.com/vietddude/noteably/internal/infra/objectstore"
	redisclient "github.com/vietddude/noteably/internal/infra/redis"
	"github.com/vietddude/noteably/internal/infra/storage"
	"github.com/vietddude/noteably/internal/infra/storage/memory"
	"github.com/vietddude/noteably/internal/infra/storage/postgres"
	"github.com/vietddude/noteably/internal/infra/transcription"
	"github.com/vietddude/noteably/internal/ingest"
)

// Repos groups the repositories of one storage backend.
type Repos struct {
	Jobs           storage.JobRepository
	Transcriptions storage.TranscriptionRepository
	Content        storage.ContentRepository
	Subscriptions  storage.SubscriptionRepository
}

// App is the running service: HTTP API, dispatcher and reconciler.
type App struct {
	cfg        *config.AppConfig
	repos      Repos
	db         *postgres.DB
	redis      *redisclient.Client
	dispatcher *worker.Dispatcher
	reconciler *worker.Reconciler
	server     *api.Server
	log        *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApp creates an App with all dependencies initialized. Postgres and
// Redis are used when configured; otherwise state lives in memory.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default().With("component", "app")
	app := &App{cfg: cfg, log: log}

	// 1. Storage
	if cfg.UsePostgres() {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx, "up"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		app.db = db
		app.repos = PostgresRepos(db)
		log.Info("Using PostgreSQL storage")
	} else {
		app.repos = MemoryRepos(memory.NewMemoryStorage())
		log.Info("Using memory storage")
	}

	// 2. Queue and lock
	var (
		queue  worker.Queue
		locker worker.Locker
	)
	if cfg.UseRedis() {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			app.closeStores()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redis = rc
		queue = redisclient.NewSchedule(rc)
		locker = redisclient.NewLocker(rc)
		log.Info("Using Redis job queue")
	} else {
		queue = worker.NewMemoryQueue()
		locker = worker.NewMemoryLocker()
		log.Info("Using memory job queue")
	}

	// 3. External providers
	store, err := objectstore.New(cfg.Storage)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to init object storage: %w", err)
	}
	transcriber := transcription.NewClient(cfg.Transcription)
	generator := generation.NewClient(cfg.Generation)
	retrier := retry.New(cfg.Pipeline.Retry)

	// 4. Pipeline
	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Jobs:           app.repos.Jobs,
		Transcriptions: app.repos.Transcriptions,
		Content:        app.repos.Content,
		Transcriber:    transcriber,
		Generator:      generator,
		Retrier:        retrier,
	}, cfg.Pipeline.Orchestrator())
	orch.SetStateChangeCallback(func(jobID string, t pipeline.Transition) {
		log.Info("Job state changed",
			"job_id", jobID,
			"from", t.From,
			"to", t.To,
			"reason", t.Reason,
		)
	})

	dispCfg := cfg.Pipeline.Dispatcher()
	app.dispatcher = worker.NewDispatcher(queue, locker, orch, retrier.Backoff, dispCfg)
	app.reconciler = worker.NewReconciler(app.repos.Jobs, app.dispatcher, orch.PollInterval(), dispCfg.ReconcileInterval)

	// 5. Admission
	admission := ingest.NewService(
		app.repos.Jobs,
		ingest.NewQuotaGate(app.repos.Subscriptions),
		store,
		app.dispatcher,
		retrier,
		cfg.Ingest,
	)

	// 6. Health
	healthMon := health.NewMonitor(app.repos.Jobs)
	if app.db != nil {
		healthMon.AddChecker("postgres", app.db.Health)
	}
	if app.redis != nil {
		healthMon.AddChecker("redis", app.redis.Health)
	}
	healthMon.AddProvider(transcriber.Provider().Name(), transcriber.Provider().Monitor)
	healthMon.AddProvider(generator.Provider().Name(), generator.Provider().Monitor)

	// 7. HTTP
	app.server = api.NewServer(api.Deps{
		Ingest:      admission,
		Jobs:        app.repos.Jobs,
		Content:     app.repos.Content,
		Subs:        app.repos.Subscriptions,
		Health:      healthMon,
		MaxUploadMB: cfg.Ingest.MaxFileSizeMB,
	}, cfg.Server.Port)

	return app, nil
}

// PostgresRepos returns repositories backed by db.
func PostgresRepos(db *postgres.DB) Repos {
	return Repos{
		Jobs:           postgres.NewJobRepo(db),
		Transcriptions: postgres.NewTranscriptionRepo(db),
		Content:        postgres.NewContentRepo(db),
		Subscriptions:  postgres.NewSubscriptionRepo(db),
	}
}

// MemoryRepos returns repositories backed by store.
func MemoryRepos(store *memory.MemoryStorage) Repos {
	return Repos{
		Jobs:           memory.NewJobRepo(store),
		Transcriptions: memory.NewTranscriptionRepo(store),
		Content:        memory.NewContentRepo(store),
		Subscriptions:  memory.NewSubscriptionRepo(store),
	}
}

// Start starts the API server and the background workers. It returns
// immediately; Stop shuts everything down.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	if a.db != nil {
		a.db.StartMetricsCollector(gctx)
	}

	g.Go(func() error {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.dispatcher.Start(gctx)
	})
	g.Go(func() error {
		a.reconciler.Start(gctx)
		return nil
	})

	a.log.Info("Service started",
		"port", a.cfg.Server.Port,
		"workers", a.cfg.Pipeline.Workers,
	)
	return nil
}

// Stop stops the HTTP server, waits for in-flight steps and closes stores.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping service...")

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop api server: %w", err))
	}
	if a.cancel != nil {
		a.cancel()
	}

	if a.group != nil {
		done := make(chan error, 1)
		go func() { done <- a.group.Wait() }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("workers did not stop: %w", ctx.Err()))
		}
	}

	a.closeStores()
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
