package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
)

// TaskStore defines the interface for prompt task persistence. State writes
// go through Transition so the state machine table is enforced at the single
// write path.
type TaskStore interface {
	// Create saves a new prompt task for a slide.
	Create(ctx context.Context, task *domain.PromptTask) error

	// GetBySlide retrieves the prompt task for a slide.
	// Returns ErrTaskNotFound if no task exists.
	GetBySlide(ctx context.Context, slideID uuid.UUID) (*domain.PromptTask, error)

	// Transition atomically moves the task to a new state after validating
	// the change against the state machine. Returns
	// domain.ErrIllegalTransition when the change is not legal. The update
	// function mutates scheduling fields (attempts, nextRetryAt, error)
	// alongside the state change.
	Transition(ctx context.Context, slideID uuid.UUID, to domain.TaskState, update func(task *domain.PromptTask)) (*domain.PromptTask, error)

	// ResetForRetry returns a failed task to queued with attempts zeroed,
	// used by the manual retry action.
	ResetForRetry(ctx context.Context, slideID uuid.UUID) error

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}

// PromptStore appends generated prompts idempotently and keeps the owning
// task's progress counter equal to the number of stored prompts.
type PromptStore interface {
	// AppendPrompt atomically appends one prompt unless its ID is already
	// present (idempotent no-op), updates progress, and selects the prompt
	// if it is the first for its slide. Conflicting concurrent appends abort
	// and are retried internally; exhausting the retry budget returns
	// ErrAborted.
	AppendPrompt(ctx context.Context, prompt *domain.SlidePrompt) error

	// ListBySlide retrieves a slide's stored prompts in insertion order.
	ListBySlide(ctx context.Context, slideID uuid.UUID) ([]*domain.SlidePrompt, error)
}

// QueueStore defines the durable work queue for prompt tasks.
type QueueStore interface {
	// Enqueue creates or re-arms the queue entry for a slide with the given
	// attempt count. One entry exists per slide.
	Enqueue(ctx context.Context, entry *domain.QueueEntry) error

	// Claim atomically flips a queued entry to processing and stamps the
	// claim time. Returns ErrQueueEntryNotFound if no queued entry exists
	// for the slide.
	Claim(ctx context.Context, slideID uuid.UUID, now time.Time) (*domain.QueueEntry, error)

	// Delete removes the entry once its task reached a terminal state for
	// this cycle.
	Delete(ctx context.Context, slideID uuid.UUID) error

	// ListDue returns queued entries whose task is eligible to run (no
	// next_retry_at gate, or the gate has passed).
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error)

	// ResetStale returns entries stuck in processing longer than olderThan
	// to queued, and reports how many were reset.
	ResetStale(ctx context.Context, olderThan time.Duration, now time.Time) (int, error)

	// WithTx returns a new QueueStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) QueueStore
}
