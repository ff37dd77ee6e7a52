package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/platform/logger"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
//
// State changes use read-then-conditional-write: the current row is read,
// the transition validated against the state machine, and the UPDATE guarded
// by the observed state. A concurrent writer that changes the state between
// the read and the write makes the guard miss, which surfaces as
// store.ErrAborted for the caller to retry.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

const taskColumns = `
	slide_id, deck_id, user_id, target_count, state,
	progress_succeeded, progress_failed, last_success_at,
	attempts, total_cycles, next_retry_at, error_message, updated_at
`

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.PromptTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO slide_prompt_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		task.SlideID,
		task.DeckID,
		task.UserID,
		task.TargetCount,
		task.State,
		task.Progress.Succeeded,
		task.Progress.Failed,
		task.Progress.LastSuccessAt,
		task.Attempts,
		task.TotalCycles,
		task.NextRetryAt,
		task.Error,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to create prompt task",
			slog.String("error", err.Error()),
			slog.String("slide_id", task.SlideID.String()))
		return MapError(err)
	}

	return nil
}

// GetBySlide implements store.TaskStore.GetBySlide
func (s *PostgresTaskStore) GetBySlide(ctx context.Context, slideID uuid.UUID) (*domain.PromptTask, error) {
	query := `SELECT ` + taskColumns + ` FROM slide_prompt_tasks WHERE slide_id = $1`
	return s.scanTask(s.db.QueryRowContext(ctx, query, slideID))
}

// Transition implements store.TaskStore.Transition
func (s *PostgresTaskStore) Transition(
	ctx context.Context,
	slideID uuid.UUID,
	to domain.TaskState,
	update func(task *domain.PromptTask),
) (*domain.PromptTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := s.GetBySlide(ctx, slideID)
	if err != nil {
		return nil, err
	}

	from := task.State
	if err := domain.ValidateTransition(from, to); err != nil {
		log.Warn("rejected illegal task transition",
			slog.String("slide_id", slideID.String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		return nil, err
	}

	task.State = to
	task.UpdatedAt = time.Now().UTC()
	if update != nil {
		update(task)
	}

	query := `
		UPDATE slide_prompt_tasks
		SET state = $1,
		    progress_failed = $2,
		    attempts = $3,
		    total_cycles = $4,
		    next_retry_at = $5,
		    error_message = $6,
		    updated_at = $7
		WHERE slide_id = $8 AND state = $9
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		task.State,
		task.Progress.Failed,
		task.Attempts,
		task.TotalCycles,
		task.NextRetryAt,
		task.Error,
		task.UpdatedAt,
		slideID,
		from,
	)
	if err != nil {
		log.Error("failed to write task transition",
			slog.String("error", err.Error()),
			slog.String("slide_id", slideID.String()),
			slog.String("to", string(to)))
		return nil, MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, MapError(err)
	}
	if rows == 0 {
		// The guarded write missed: a concurrent writer moved the task
		// between our read and write.
		return nil, fmt.Errorf("%w: task %s changed state during transition to %q",
			store.ErrAborted, slideID, to)
	}

	log.Debug("task transitioned",
		slog.String("slide_id", slideID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return task, nil
}

// ResetForRetry implements store.TaskStore.ResetForRetry
func (s *PostgresTaskStore) ResetForRetry(ctx context.Context, slideID uuid.UUID) error {
	_, err := s.Transition(ctx, slideID, domain.TaskStateQueued, func(task *domain.PromptTask) {
		task.Attempts = 0
		task.NextRetryAt = nil
		task.Error = ""
	})
	return err
}

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresTaskStore) scanTask(row rowScanner) (*domain.PromptTask, error) {
	var task domain.PromptTask
	var lastSuccessAt, nextRetryAt sql.NullTime

	err := row.Scan(
		&task.SlideID,
		&task.DeckID,
		&task.UserID,
		&task.TargetCount,
		&task.State,
		&task.Progress.Succeeded,
		&task.Progress.Failed,
		&lastSuccessAt,
		&task.Attempts,
		&task.TotalCycles,
		&nextRetryAt,
		&task.Error,
		&task.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}

	if lastSuccessAt.Valid {
		t := lastSuccessAt.Time
		task.Progress.LastSuccessAt = &t
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		task.NextRetryAt = &t
	}

	return &task, nil
}
