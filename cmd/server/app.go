package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pitchforge/deckgen-api/internal/backoff"
	"github.com/pitchforge/deckgen-api/internal/config"
	"github.com/pitchforge/deckgen-api/internal/events"
	"github.com/pitchforge/deckgen-api/internal/ledger"
	"github.com/pitchforge/deckgen-api/internal/platform/gemini"
	"github.com/pitchforge/deckgen-api/internal/platform/postgres"
	"github.com/pitchforge/deckgen-api/internal/service/deckgen"
	"github.com/pitchforge/deckgen-api/internal/store"
	"github.com/pitchforge/deckgen-api/internal/task"
)

// pricingCacheTTL bounds how long a cached pricing row may serve cost
// calculations before being refreshed from the database.
const pricingCacheTTL = 5 * time.Minute

// application holds the shared application dependencies so startup wiring
// and shutdown cleanup live in one place.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	deckStore      store.DeckStore
	slideStore     store.SlideStore
	taskStore      store.TaskStore
	promptStore    store.PromptStore
	queueStore     store.QueueStore
	usageStore     store.UsageStore
	aggregateStore store.AggregateStore
	pricingStore   store.PricingStore

	// Services
	generator    *gemini.Client
	executor     *backoff.Executor
	usageLedger  *ledger.Service
	orchestrator *task.Orchestrator
	deckService  *deckgen.Service

	// Background processing
	eventEmitter *events.InMemoryEventEmitter
	taskRunner   *task.Runner
	scheduler    *cron.Cron
}

// newApplication creates an application instance with all dependencies
// initialized and background workers started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	txRunner := store.NewSQLRunner(db)

	app.deckStore = postgres.NewPostgresDeckStore(db, logger)
	app.slideStore = postgres.NewPostgresSlideStore(db, logger)
	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.promptStore = postgres.NewPostgresPromptStore(txRunner, logger)
	app.queueStore = postgres.NewPostgresQueueStore(db, logger)
	app.usageStore = postgres.NewPostgresUsageStore(db, logger)
	app.aggregateStore = postgres.NewPostgresAggregateStore(db, logger)
	app.pricingStore = postgres.NewPostgresPricingStore(db, logger)

	var err error
	app.generator, err = gemini.NewClient(ctx, logger.With("component", "llm_generator"), cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation client: %w", err)
	}
	logger.Info("generation client initialized", "model", cfg.LLM.ModelName)

	executorCfg := backoff.DefaultConfig()
	executorCfg.MaxConcurrent = int64(cfg.LLM.MaxConcurrent)
	app.executor = backoff.NewExecutor(executorCfg, logger)

	pricingCache := ledger.NewPricingCache(app.pricingStore, pricingCacheTTL)
	app.usageLedger = ledger.NewService(logger, txRunner, app.usageStore, app.aggregateStore, pricingCache)

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)

	app.orchestrator = task.NewOrchestrator(
		logger,
		app.taskStore,
		app.promptStore,
		app.queueStore,
		app.slideStore,
		app.deckStore,
		app.generator,
		app.executor,
		app.usageLedger,
		app.eventEmitter,
		task.OrchestratorConfig{
			MaxRetries:  cfg.LLM.MaxRetries,
			CallTimeout: cfg.LLM.TotalTimeout(),
		},
	)

	app.taskRunner = task.NewRunner(app.orchestrator, task.RunnerConfig{
		WorkerCount:   cfg.Worker.WorkerCount,
		QueueSize:     cfg.Worker.QueueSize,
		StaleClaimAge: cfg.Worker.StaleClaimAge(),
		BatchBudget:   cfg.Worker.BatchBudget(),
	}, logger)

	// The runner consumes queue events so generation starts immediately
	// after an enqueue rather than waiting for the next sweep.
	app.eventEmitter.RegisterHandler(app.taskRunner)

	app.deckService = deckgen.NewService(
		logger,
		app.deckStore,
		app.slideStore,
		app.taskStore,
		app.promptStore,
		app.generator,
		app.executor,
		app.usageLedger,
		app.orchestrator,
		app.eventEmitter,
		deckgen.Config{
			MaxRetries:  cfg.LLM.MaxRetries,
			CallTimeout: cfg.LLM.TotalTimeout(),
		},
	)

	if err := app.taskRunner.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task runner: %w", err)
	}

	if err := app.setupScheduler(); err != nil {
		return nil, fmt.Errorf("failed to set up sweep scheduler: %w", err)
	}

	logger.Info("application initialized")
	return app, nil
}

// setupScheduler registers the periodic sweeps: reclaiming stale queue
// claims plus due work, and settling pending usage costs.
func (app *application) setupScheduler() error {
	app.scheduler = cron.New()

	_, err := app.scheduler.AddFunc(app.config.Worker.SweepSchedule, func() {
		ctx := context.Background()
		if err := app.taskRunner.Sweep(ctx); err != nil {
			app.logger.Error("queue sweep failed", "error", err)
		}
		if settled, err := app.usageLedger.ProcessPendingUsageEvents(ctx); err != nil {
			app.logger.Error("usage reconciliation sweep failed", "error", err)
		} else if settled > 0 {
			app.logger.Info("usage reconciliation settled events", "count", settled)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", app.config.Worker.SweepSchedule, err)
	}

	app.scheduler.Start()
	return nil
}

// Run starts the HTTP server and blocks until shutdown.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.scheduler != nil {
		stopCtx := app.scheduler.Stop()
		<-stopCtx.Done()
	}

	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
