package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/backoff"
	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/events"
	"github.com/pitchforge/deckgen-api/internal/generation"
	"github.com/pitchforge/deckgen-api/internal/ledger"
	"github.com/pitchforge/deckgen-api/internal/store"
)

const (
	// maxRetryAttempts is the ceiling on consecutive no-progress cycles
	// before a task fails permanently. Attempts reset to zero whenever a
	// cycle stores at least one prompt.
	maxRetryAttempts = 5

	// maxTotalCycles caps processing cycles over the task's whole life.
	// Because partial progress forgives the attempt counter, a task that
	// alternates one stored prompt with a failure could otherwise cycle
	// forever.
	maxTotalCycles = 25

	// operationKeyImagePrompts is the usage ledger operation for prompt
	// generation calls.
	operationKeyImagePrompts = "slide.image_prompts"
)

// OrchestratorConfig tunes the per-call generation budget.
type OrchestratorConfig struct {
	// MaxRetries is passed to the backoff executor per generation call.
	MaxRetries int

	// CallTimeout is the overall budget for one generation call including
	// its internal retries.
	CallTimeout time.Duration
}

// Orchestrator processes claimed queue entries end to end.
type Orchestrator struct {
	logger    *slog.Logger
	tasks     store.TaskStore
	prompts   store.PromptStore
	queue     store.QueueStore
	slides    store.SlideStore
	decks     store.DeckStore
	generator generation.PromptGenerator
	executor  *backoff.Executor
	ledger    *ledger.Service
	emitter   events.EventEmitter
	cfg       OrchestratorConfig

	now func() time.Time
}

// NewOrchestrator wires the queue orchestrator's collaborators together.
func NewOrchestrator(
	logger *slog.Logger,
	tasks store.TaskStore,
	prompts store.PromptStore,
	queue store.QueueStore,
	slides store.SlideStore,
	decks store.DeckStore,
	generator generation.PromptGenerator,
	executor *backoff.Executor,
	usageLedger *ledger.Service,
	emitter events.EventEmitter,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		logger:    logger.With(slog.String("component", "queue_orchestrator")),
		tasks:     tasks,
		prompts:   prompts,
		queue:     queue,
		slides:    slides,
		decks:     decks,
		generator: generator,
		executor:  executor,
		ledger:    usageLedger,
		emitter:   emitter,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Enqueue creates or re-arms the durable queue entry for a slide.
func (o *Orchestrator) Enqueue(ctx context.Context, slideID, deckID, userID uuid.UUID, attempts int) error {
	entry := &domain.QueueEntry{
		SlideID:    slideID,
		DeckID:     deckID,
		UserID:     userID,
		Status:     domain.QueueStatusQueued,
		Attempts:   attempts,
		EnqueuedAt: o.now().UTC(),
	}
	if err := o.queue.Enqueue(ctx, entry); err != nil {
		return fmt.Errorf("failed to enqueue slide %s: %w", slideID, err)
	}
	return nil
}

// ProcessOne claims and processes the queue entry for one slide. A missing or
// already-claimed entry is not an error: duplicate wakeups are expected and
// the claim defuses them. Every other outcome leaves the task in a defined
// state before returning.
func (o *Orchestrator) ProcessOne(ctx context.Context, slideID uuid.UUID) error {
	log := o.logger.With(slog.String("slide_id", slideID.String()))

	entry, err := o.queue.Claim(ctx, slideID, o.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.DebugContext(ctx, "no queued entry to claim, skipping")
			return nil
		}
		return fmt.Errorf("failed to claim queue entry: %w", err)
	}

	task, err := o.tasks.GetBySlide(ctx, slideID)
	if err != nil {
		return fmt.Errorf("failed to load task for claimed entry: %w", err)
	}

	// Duplicate claims can race a completion. If the full target is already
	// stored there is nothing to generate.
	if task.Complete() {
		return o.finishComplete(ctx, log, task)
	}

	if task.TotalCycles >= maxTotalCycles {
		log.WarnContext(ctx, "task exceeded lifetime cycle ceiling, failing permanently",
			slog.Int("total_cycles", task.TotalCycles))
		return o.failPermanently(ctx, task, fmt.Errorf("exceeded %d processing cycles", maxTotalCycles))
	}

	task, err = o.tasks.Transition(ctx, slideID, domain.TaskStateGenerating, func(t *domain.PromptTask) {
		t.TotalCycles++
		t.NextRetryAt = nil
		t.Error = ""
	})
	if err != nil {
		return fmt.Errorf("failed to transition task to generating: %w", err)
	}

	slide, err := o.slides.GetByID(ctx, slideID)
	if err != nil {
		return fmt.Errorf("failed to load slide for generation: %w", err)
	}

	remaining := task.Remaining()
	log.InfoContext(ctx, "generating image prompts",
		slog.Int("remaining", remaining),
		slog.Int("cycle", task.TotalCycles),
		slog.Int("attempts", entry.Attempts))

	result, genErr := o.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return o.generator.GeneratePrompts(ctx, slide, remaining)
	}, o.cfg.MaxRetries, o.cfg.CallTimeout)

	appended := 0
	if genErr == nil {
		batch := result.(*generation.PromptBatch)
		for _, item := range batch.Items {
			prompt := &domain.SlidePrompt{
				ID:           item.ID,
				SlideID:      slideID,
				Content:      item.Content,
				InputTokens:  item.Usage.InputTokens,
				OutputTokens: item.Usage.OutputTokens,
				CreatedAt:    o.now().UTC(),
			}
			if err := o.prompts.AppendPrompt(ctx, prompt); err != nil {
				log.ErrorContext(ctx, "failed to append generated prompt",
					slog.String("prompt_id", item.ID.String()),
					slog.String("error", err.Error()))
				continue
			}
			appended++
		}
	}

	// Reload: the prompt store owns progress_succeeded, and concurrent
	// appends from a racing cycle may have advanced it too.
	task, err = o.tasks.GetBySlide(ctx, slideID)
	if err != nil {
		return fmt.Errorf("failed to reload task after generation: %w", err)
	}

	switch {
	case task.Complete():
		return o.finishComplete(ctx, log, task)

	case appended > 0:
		return o.finishPartial(ctx, log, task)

	default:
		if genErr == nil {
			genErr = fmt.Errorf("generation produced no storable prompts")
		}
		return o.handleFailure(ctx, log, task, entry, genErr)
	}
}

// finishComplete books the task's total usage, moves it to completed, and
// removes its queue entry. A task caught in queued with a full result set
// cannot jump straight to completed, so it passes through generating first.
func (o *Orchestrator) finishComplete(ctx context.Context, log *slog.Logger, task *domain.PromptTask) error {
	if err := o.recordCompletionUsage(ctx, task); err != nil {
		log.ErrorContext(ctx, "failed to record usage for completed task",
			slog.String("error", err.Error()))
	}

	if !domain.CanTransition(task.State, domain.TaskStateCompleted) {
		if _, err := o.tasks.Transition(ctx, task.SlideID, domain.TaskStateGenerating, nil); err != nil {
			return fmt.Errorf("failed to stage completion transition: %w", err)
		}
	}

	if _, err := o.tasks.Transition(ctx, task.SlideID, domain.TaskStateCompleted, func(t *domain.PromptTask) {
		t.NextRetryAt = nil
		t.Error = ""
	}); err != nil {
		return fmt.Errorf("failed to transition task to completed: %w", err)
	}

	if err := o.queue.Delete(ctx, task.SlideID); err != nil {
		return fmt.Errorf("failed to delete queue entry for completed task: %w", err)
	}

	log.InfoContext(ctx, "task completed",
		slog.Int("prompts", task.Progress.Succeeded),
		slog.Int("cycles", task.TotalCycles))
	return nil
}

// finishPartial records progress, re-arms the queue with a forgiven attempt
// counter, and wakes a worker immediately rather than waiting for a sweep.
func (o *Orchestrator) finishPartial(ctx context.Context, log *slog.Logger, task *domain.PromptTask) error {
	if _, err := o.tasks.Transition(ctx, task.SlideID, domain.TaskStatePartial, func(t *domain.PromptTask) {
		t.Attempts = 0
		t.NextRetryAt = nil
		t.Error = ""
	}); err != nil {
		return fmt.Errorf("failed to transition task to partial: %w", err)
	}

	// Progress was made, so the retry budget starts over.
	if err := o.Enqueue(ctx, task.SlideID, task.DeckID, task.UserID, 0); err != nil {
		return err
	}

	event, err := events.NewGenerationEvent(events.TypeSlideRetry, events.SlideQueuedPayload{
		SlideID: task.SlideID,
		DeckID:  task.DeckID,
		UserID:  task.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to build retry event: %w", err)
	}
	if err := o.emitter.EmitEvent(ctx, event); err != nil {
		// The durable entry exists; the sweep will pick it up.
		log.WarnContext(ctx, "failed to emit retry event, falling back to sweep",
			slog.String("error", err.Error()))
	}

	log.InfoContext(ctx, "task made partial progress",
		slog.Int("succeeded", task.Progress.Succeeded),
		slog.Int("target", task.TargetCount))
	return nil
}

// handleFailure classifies a no-progress cycle: schedule another cycle when
// the failure is transient and budget remains, otherwise fail permanently.
func (o *Orchestrator) handleFailure(ctx context.Context, log *slog.Logger, task *domain.PromptTask, entry *domain.QueueEntry, genErr error) error {
	attempts := entry.Attempts + 1

	if !retryableOutcome(genErr) || attempts >= maxRetryAttempts || task.TotalCycles >= maxTotalCycles {
		log.WarnContext(ctx, "task failed permanently",
			slog.Int("attempts", attempts),
			slog.Int("total_cycles", task.TotalCycles),
			slog.String("error", genErr.Error()))
		return o.failPermanently(ctx, task, genErr)
	}

	now := o.now().UTC()
	retryAt := domain.NextRetryAt(now, attempts)

	if _, err := o.tasks.Transition(ctx, task.SlideID, domain.TaskStateFailed, func(t *domain.PromptTask) {
		t.Attempts = attempts
		t.Progress.Failed++
		t.NextRetryAt = &retryAt
		t.Error = genErr.Error()
	}); err != nil {
		return fmt.Errorf("failed to transition task to failed: %w", err)
	}

	if err := o.Enqueue(ctx, task.SlideID, task.DeckID, task.UserID, attempts); err != nil {
		return err
	}

	log.InfoContext(ctx, "task failed, retry scheduled",
		slog.Int("attempts", attempts),
		slog.Time("next_retry_at", retryAt),
		slog.String("error", genErr.Error()))
	return nil
}

// failPermanently parks the task in failed with no retry gate and drops its
// queue entry. Manual retry through ResetForRetry is the only way back.
func (o *Orchestrator) failPermanently(ctx context.Context, task *domain.PromptTask, genErr error) error {
	if _, err := o.tasks.Transition(ctx, task.SlideID, domain.TaskStateFailed, func(t *domain.PromptTask) {
		t.Progress.Failed++
		t.NextRetryAt = nil
		t.Error = genErr.Error()
	}); err != nil {
		return fmt.Errorf("failed to transition task to terminal failed: %w", err)
	}

	if err := o.queue.Delete(ctx, task.SlideID); err != nil {
		return fmt.Errorf("failed to delete queue entry for failed task: %w", err)
	}
	return nil
}

// recordCompletionUsage books the token spend of the whole task, partial
// cycles included, by summing the per-prompt counts persisted alongside each
// stored prompt. The request ID is derived from the slide and cycle so a
// duplicate completion attempt cannot double-bill.
func (o *Orchestrator) recordCompletionUsage(ctx context.Context, task *domain.PromptTask) error {
	prompts, err := o.prompts.ListBySlide(ctx, task.SlideID)
	if err != nil {
		return fmt.Errorf("failed to list prompts for usage attribution: %w", err)
	}

	var total generation.Usage
	for _, prompt := range prompts {
		total.Add(generation.Usage{
			InputTokens:  prompt.InputTokens,
			OutputTokens: prompt.OutputTokens,
		})
	}
	if total.InputTokens == 0 && total.OutputTokens == 0 {
		return nil
	}

	deck, err := o.decks.GetByID(ctx, task.DeckID)
	if err != nil {
		return fmt.Errorf("failed to load deck for usage attribution: %w", err)
	}

	return o.ledger.RecordUsageEvent(ctx, ledger.RecordRequest{
		RequestID:    fmt.Sprintf("slide:%s:prompts:%d", task.SlideID, task.TotalCycles),
		UserID:       task.UserID,
		ProjectID:    deck.ProjectID,
		OperationKey: operationKeyImagePrompts,
		InputTokens:  total.InputTokens,
		OutputTokens: total.OutputTokens,
	})
}

// retryableOutcome decides whether a whole-call failure earns another queue
// cycle. Budget exhaustion inside the backoff controller is transient by
// definition; anything it classified as permanent stays permanent.
func retryableOutcome(err error) bool {
	return errors.Is(err, backoff.ErrRetriesExhausted) ||
		errors.Is(err, backoff.ErrDeadlineExceeded) ||
		errors.Is(err, backoff.ErrCircuitOpen) ||
		errors.Is(err, backoff.ErrBusy)
}

// RetrySlide is the manual retry action for a permanently failed task. It
// returns the task to queued with a forgiven attempt counter, re-arms the
// durable queue, and wakes a worker.
func (o *Orchestrator) RetrySlide(ctx context.Context, slideID uuid.UUID) error {
	task, err := o.tasks.GetBySlide(ctx, slideID)
	if err != nil {
		return fmt.Errorf("failed to load task for retry: %w", err)
	}

	if err := o.tasks.ResetForRetry(ctx, slideID); err != nil {
		return fmt.Errorf("failed to reset task for retry: %w", err)
	}

	if err := o.Enqueue(ctx, slideID, task.DeckID, task.UserID, 0); err != nil {
		return err
	}

	event, err := events.NewGenerationEvent(events.TypeSlideQueued, events.SlideQueuedPayload{
		SlideID: slideID,
		DeckID:  task.DeckID,
		UserID:  task.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to build retry event: %w", err)
	}
	if err := o.emitter.EmitEvent(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to emit manual retry event, falling back to sweep",
			slog.String("slide_id", slideID.String()),
			slog.String("error", err.Error()))
	}

	return nil
}
