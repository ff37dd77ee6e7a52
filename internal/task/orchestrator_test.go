package task

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchforge/deckgen-api/internal/backoff"
	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/events"
	"github.com/pitchforge/deckgen-api/internal/generation"
	"github.com/pitchforge/deckgen-api/internal/ledger"
)

type fixture struct {
	orchestrator *Orchestrator
	tasks        *fakeTaskStore
	prompts      *fakePromptStore
	queue        *fakeQueueStore
	slides       *fakeSlideStore
	decks        *fakeDeckStore
	generator    *fakeGenerator
	emitter      *fakeEmitter
	usage        *fakeUsageStore

	slideID uuid.UUID
	deckID  uuid.UUID
	userID  uuid.UUID
}

// newFixture builds an orchestrator over in-memory stores with a queued
// three-prompt task ready to claim.
func newFixture(t *testing.T, responses ...scriptedResponse) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := newFakeTaskStore()
	prompts := newFakePromptStore(tasks)
	queue := newFakeQueueStore(tasks)
	slides := newFakeSlideStore()
	decks := newFakeDeckStore()
	generator := &fakeGenerator{responses: responses}
	emitter := &fakeEmitter{}
	usage := newFakeUsageStore()

	usageLedger := ledger.NewService(logger, fakeTxRunner{}, usage,
		newFakeAggregateStore(), ledger.NewPricingCache(fakePricingStore{}, time.Minute))

	// A short per-attempt window keeps retryable failures from sleeping.
	executor := backoff.NewExecutor(backoff.DefaultConfig(), logger)

	orchestrator := NewOrchestrator(logger, tasks, prompts, queue, slides, decks,
		generator, executor, usageLedger, emitter, OrchestratorConfig{
			MaxRetries:  0,
			CallTimeout: 30 * time.Second,
		})

	f := &fixture{
		orchestrator: orchestrator,
		tasks:        tasks,
		prompts:      prompts,
		queue:        queue,
		slides:       slides,
		decks:        decks,
		generator:    generator,
		emitter:      emitter,
		usage:        usage,
		slideID:      uuid.New(),
		deckID:       uuid.New(),
		userID:       uuid.New(),
	}

	ctx := context.Background()
	require.NoError(t, decks.Create(ctx, &domain.Deck{
		ID:        f.deckID,
		ProjectID: uuid.New(),
		UserID:    f.userID,
		Topic:     "edge computing",
		Status:    domain.DeckStatusGenerating,
	}))
	require.NoError(t, slides.Create(ctx, &domain.Slide{
		ID:     f.slideID,
		DeckID: f.deckID,
		Title:  "Latency at the edge",
		Body:   "Why round trips to a central region dominate tail latency.",
	}))
	require.NoError(t, tasks.Create(ctx, &domain.PromptTask{
		SlideID:     f.slideID,
		DeckID:      f.deckID,
		UserID:      f.userID,
		TargetCount: 3,
		State:       domain.TaskStateQueued,
	}))
	require.NoError(t, orchestrator.Enqueue(ctx, f.slideID, f.deckID, f.userID, 0))

	return f
}

func (f *fixture) task(t *testing.T) *domain.PromptTask {
	t.Helper()
	task, err := f.tasks.GetBySlide(context.Background(), f.slideID)
	require.NoError(t, err)
	return task
}

func TestProcessOneCompletesInOneCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{batch: batchOf(3)})

	require.NoError(t, f.orchestrator.ProcessOne(context.Background(), f.slideID))

	task := f.task(t)
	assert.Equal(t, domain.TaskStateCompleted, task.State)
	assert.Equal(t, 3, task.Progress.Succeeded)
	assert.Equal(t, 1, task.TotalCycles)
	assert.Nil(t, f.queue.entryFor(f.slideID))

	recorded := f.usage.recordedEvents()
	require.Len(t, recorded, 1)
	assert.Equal(t, int64(300), recorded[0].InputTokens)
	assert.Equal(t, int64(150), recorded[0].OutputTokens)

	stored, err := f.prompts.ListBySlide(context.Background(), f.slideID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestProcessOnePartialThenComplete(t *testing.T) {
	t.Parallel()

	// First cycle produces two of three prompts, second cycle the rest.
	f := newFixture(t,
		scriptedResponse{batch: batchOf(2)},
		scriptedResponse{batch: batchOf(1)},
	)
	ctx := context.Background()

	require.NoError(t, f.orchestrator.ProcessOne(ctx, f.slideID))

	task := f.task(t)
	assert.Equal(t, domain.TaskStatePartial, task.State)
	assert.Equal(t, 2, task.Progress.Succeeded)
	assert.Zero(t, task.Attempts, "progress forgives the retry budget")

	entry := f.queue.entryFor(f.slideID)
	require.NotNil(t, entry, "partial progress re-arms the queue")
	assert.Equal(t, domain.QueueStatusQueued, entry.Status)
	assert.Zero(t, entry.Attempts)

	emitted := f.emitter.emitted()
	require.Len(t, emitted, 1, "re-enqueue triggers an immediate wakeup")
	assert.Equal(t, events.TypeSlideRetry, emitted[0].Type)

	require.NoError(t, f.orchestrator.ProcessOne(ctx, f.slideID))

	task = f.task(t)
	assert.Equal(t, domain.TaskStateCompleted, task.State)
	assert.Equal(t, 3, task.Progress.Succeeded)
	assert.Equal(t, 2, task.TotalCycles)
	assert.Nil(t, f.queue.entryFor(f.slideID))

	calls := f.generator.callLog()
	require.Len(t, calls, 2)
	assert.Equal(t, 3, calls[0].Count)
	assert.Equal(t, 1, calls[1].Count, "continuation requests only the missing count")

	recorded := f.usage.recordedEvents()
	require.Len(t, recorded, 1, "usage recorded once, on completion")
	assert.Equal(t, int64(300), recorded[0].InputTokens,
		"both cycles' input tokens are billed")
	assert.Equal(t, int64(150), recorded[0].OutputTokens,
		"both cycles' output tokens are billed")
}

func TestProcessOneRetryableFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{err: &transientError{}})

	before := time.Now().UTC()
	require.NoError(t, f.orchestrator.ProcessOne(context.Background(), f.slideID))

	task := f.task(t)
	assert.Equal(t, domain.TaskStateFailed, task.State)
	assert.Equal(t, 1, task.Attempts)
	assert.NotEmpty(t, task.Error)
	require.NotNil(t, task.NextRetryAt)
	// attempts=1 gates the retry two minutes out
	assert.WithinDuration(t, before.Add(2*time.Minute), *task.NextRetryAt, 5*time.Second)

	entry := f.queue.entryFor(f.slideID)
	require.NotNil(t, entry, "retryable failure re-arms the queue")
	assert.Equal(t, 1, entry.Attempts, "attempt count carries across cycles")

	assert.Zero(t, f.usage.eventCount())
}

func TestProcessOnePermanentFailureIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{err: &permanentError{}})

	require.NoError(t, f.orchestrator.ProcessOne(context.Background(), f.slideID))

	task := f.task(t)
	assert.Equal(t, domain.TaskStateFailed, task.State)
	assert.Nil(t, task.NextRetryAt)
	assert.Nil(t, f.queue.entryFor(f.slideID), "terminal failure leaves no queue entry")
	assert.Empty(t, f.emitter.emitted())
}

func TestProcessOneExhaustsAttemptCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{err: &transientError{}})
	ctx := context.Background()

	for i := 0; i < maxRetryAttempts; i++ {
		require.NoError(t, f.orchestrator.ProcessOne(ctx, f.slideID))

		// Clear the outer retry gate so the next claim goes through
		// immediately instead of waiting minutes.
		f.tasks.mu.Lock()
		f.tasks.tasks[f.slideID].NextRetryAt = nil
		f.tasks.mu.Unlock()
	}

	task := f.task(t)
	assert.Equal(t, domain.TaskStateFailed, task.State)
	assert.Nil(t, task.NextRetryAt)
	assert.Nil(t, f.queue.entryFor(f.slideID))
}

func TestProcessOneEnforcesLifetimeCycleCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{batch: batchOf(1)})

	f.tasks.mu.Lock()
	f.tasks.tasks[f.slideID].TotalCycles = maxTotalCycles
	f.tasks.mu.Unlock()

	require.NoError(t, f.orchestrator.ProcessOne(context.Background(), f.slideID))

	task := f.task(t)
	assert.Equal(t, domain.TaskStateFailed, task.State)
	assert.Nil(t, f.queue.entryFor(f.slideID))
	assert.Empty(t, f.generator.callLog(), "no generation beyond the cycle ceiling")
}

func TestProcessOneDuplicateClaimShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{batch: batchOf(3)})
	ctx := context.Background()

	// Simulate a stale wakeup for a task that already holds its target.
	f.tasks.mu.Lock()
	f.tasks.tasks[f.slideID].Progress.Succeeded = 3
	f.tasks.mu.Unlock()

	require.NoError(t, f.orchestrator.ProcessOne(ctx, f.slideID))

	task := f.task(t)
	assert.Equal(t, domain.TaskStateCompleted, task.State)
	assert.Empty(t, f.generator.callLog(), "no generation when results are full")
	assert.Nil(t, f.queue.entryFor(f.slideID))
}

func TestProcessOneMissingEntryIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{batch: batchOf(3)})
	ctx := context.Background()

	require.NoError(t, f.queue.Delete(ctx, f.slideID))
	require.NoError(t, f.orchestrator.ProcessOne(ctx, f.slideID))

	assert.Empty(t, f.generator.callLog())
	assert.Equal(t, domain.TaskStateQueued, f.task(t).State)
}

// transientError is retryable by status.
type transientError struct{}

func (e *transientError) Error() string   { return "upstream unavailable" }
func (e *transientError) HTTPStatus() int { return 503 }

// permanentError is non-retryable by status.
type permanentError struct{}

func (e *permanentError) Error() string   { return "invalid argument" }
func (e *permanentError) HTTPStatus() int { return 400 }

var _ generation.PromptGenerator = (*fakeGenerator)(nil)

func TestRetrySlideRearmsFailedTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{err: &permanentError{}})
	ctx := context.Background()

	require.NoError(t, f.orchestrator.ProcessOne(ctx, f.slideID))
	require.Equal(t, domain.TaskStateFailed, f.task(t).State)

	require.NoError(t, f.orchestrator.RetrySlide(ctx, f.slideID))

	task := f.task(t)
	assert.Equal(t, domain.TaskStateQueued, task.State)
	assert.Zero(t, task.Attempts)

	entry := f.queue.entryFor(f.slideID)
	require.NotNil(t, entry)
	assert.Equal(t, domain.QueueStatusQueued, entry.Status)

	emitted := f.emitter.emitted()
	require.NotEmpty(t, emitted)
	assert.Equal(t, events.TypeSlideQueued, emitted[len(emitted)-1].Type)
}

func TestRetrySlideRejectsCompletedTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scriptedResponse{batch: batchOf(3)})
	ctx := context.Background()

	require.NoError(t, f.orchestrator.ProcessOne(ctx, f.slideID))
	require.Equal(t, domain.TaskStateCompleted, f.task(t).State)

	err := f.orchestrator.RetrySlide(ctx, f.slideID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}
