package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/events"
)

// RunnerConfig holds configuration for the generation runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process slides.
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory wakeup queue.
	QueueSize int

	// StaleClaimAge defines how long a queue entry can sit in processing
	// before the sweep considers its worker dead and resets it.
	StaleClaimAge time.Duration

	// BatchBudget is the wall-clock budget for one sweep batch. The sweep
	// stops claiming new entries once it is exhausted.
	BatchBudget time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:   2,
		QueueSize:     100,
		StaleClaimAge: 30 * time.Minute,
		BatchBudget:   2 * time.Minute,
	}
}

// sweepBatchLimit caps queue entries listed per sweep run.
const sweepBatchLimit = 100

// Runner owns the worker pool that turns queue entries into finished tasks.
// Workers are woken two ways: immediately through events, and by the
// scheduled Sweep that also recovers entries whose worker died.
type Runner struct {
	orchestrator *Orchestrator
	slideChan    chan uuid.UUID
	ctx          context.Context
	cancelFunc   context.CancelFunc
	wg           sync.WaitGroup
	config       RunnerConfig
	logger       *slog.Logger
}

// NewRunner creates a runner over the given orchestrator.
func NewRunner(orchestrator *Orchestrator, config RunnerConfig, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		orchestrator: orchestrator,
		slideChan:    make(chan uuid.UUID, config.QueueSize),
		ctx:          ctx,
		cancelFunc:   cancel,
		config:       config,
		logger:       logger.With(slog.String("component", "generation_runner")),
	}
}

// Start recovers interrupted work and launches the worker pool.
func (r *Runner) Start() error {
	if err := r.Recover(); err != nil {
		return fmt.Errorf("failed to recover interrupted work: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	return nil
}

// Stop gracefully shuts down the runner. In-flight slides finish; buffered
// wakeups are dropped and recovered by the next sweep.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
}

// Submit wakes a worker for the given slide. The durable queue entry must
// already exist; a full buffer is not an error because the sweep is the
// durability backstop.
func (r *Runner) Submit(slideID uuid.UUID) {
	select {
	case r.slideChan <- slideID:
	default:
		r.logger.Warn("wakeup buffer full, deferring slide to sweep",
			slog.String("slide_id", slideID.String()))
	}
}

// HandleEvent implements events.EventHandler, waking a worker for queued and
// retry events.
func (r *Runner) HandleEvent(_ context.Context, event *events.GenerationEvent) error {
	switch event.Type {
	case events.TypeSlideQueued, events.TypeSlideRetry:
	default:
		return nil
	}

	var payload events.SlideQueuedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to decode event payload: %w", err)
	}

	r.Submit(payload.SlideID)
	return nil
}

// Recover resets every in-flight claim from a previous process run and feeds
// due entries to the workers. Called once on startup, before workers exist,
// so any processing row necessarily belongs to a dead worker. That holds for
// a single runner instance only: a replica restarting next to live peers
// would steal their claims here, and must rely on Sweep's aged cutoff
// instead.
func (r *Runner) Recover() error {
	ctx := context.Background()

	reset, err := r.orchestrator.queue.ResetStale(ctx, 0, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reset interrupted claims: %w", err)
	}

	due, err := r.orchestrator.queue.ListDue(ctx, time.Now().UTC(), r.config.QueueSize)
	if err != nil {
		return fmt.Errorf("failed to list due entries: %w", err)
	}

	r.logger.Info("recovering unfinished work",
		slog.Int("reset_count", reset),
		slog.Int("due_count", len(due)))

	for _, entry := range due {
		r.Submit(entry.SlideID)
	}

	return nil
}

// Sweep is the scheduled durability backstop: it recovers stale claims, then
// processes due entries directly until the batch budget runs out. Failures
// on one entry never abort the batch.
func (r *Runner) Sweep(ctx context.Context) error {
	started := time.Now()

	reset, err := r.orchestrator.queue.ResetStale(ctx, r.config.StaleClaimAge, started.UTC())
	if err != nil {
		return fmt.Errorf("failed to reset stale claims: %w", err)
	}
	if reset > 0 {
		r.logger.Info("reset stale queue claims", slog.Int("count", reset))
	}

	due, err := r.orchestrator.queue.ListDue(ctx, started.UTC(), sweepBatchLimit)
	if err != nil {
		return fmt.Errorf("failed to list due entries: %w", err)
	}

	processed := 0
	for _, entry := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > r.config.BatchBudget {
			r.logger.Info("sweep budget exhausted",
				slog.Int("processed", processed),
				slog.Int("remaining", len(due)-processed))
			break
		}

		if err := r.orchestrator.ProcessOne(ctx, entry.SlideID); err != nil {
			r.logger.Error("sweep failed to process slide",
				slog.String("slide_id", entry.SlideID.String()),
				slog.String("error", err.Error()))
		}
		processed++
	}

	return nil
}

// worker drains the wakeup channel until shutdown.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", slog.Int("worker_id", id))

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", slog.Int("worker_id", id))
			return

		case slideID := <-r.slideChan:
			if err := r.orchestrator.ProcessOne(r.ctx, slideID); err != nil {
				r.logger.Error("failed to process slide",
					slog.String("slide_id", slideID.String()),
					slog.Int("worker_id", id),
					slog.String("error", err.Error()))
			}
		}
	}
}
