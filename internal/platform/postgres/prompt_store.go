package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/platform/logger"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// PostgresPromptStore implements the store.PromptStore interface.
//
// AppendPrompt is the incremental result writer: each append runs as one
// serializable read-modify-write so the task's progress counter always equals
// the number of stored prompts, even under concurrent appenders. Conflict
// aborts are retried by the transaction runner with a bounded budget.
type PostgresPromptStore struct {
	runner store.TxRunner
	logger *slog.Logger
}

// NewPostgresPromptStore creates a new PostgreSQL implementation of the PromptStore interface.
// The runner owns transaction lifecycle and conflict retries.
// If logger is nil, a default logger will be used.
func NewPostgresPromptStore(runner store.TxRunner, logger *slog.Logger) *PostgresPromptStore {
	if runner == nil {
		panic("runner cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresPromptStore{
		runner: runner,
		logger: logger.With(slog.String("component", "prompt_store")),
	}
}

// Ensure PostgresPromptStore implements store.PromptStore interface
var _ store.PromptStore = (*PostgresPromptStore)(nil)

// AppendPrompt implements store.PromptStore.AppendPrompt
func (s *PostgresPromptStore) AppendPrompt(ctx context.Context, prompt *domain.SlidePrompt) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := prompt.Validate(); err != nil {
		log.Warn("prompt validation failed during append",
			slog.String("error", err.Error()),
			slog.String("prompt_id", prompt.ID.String()))
		return err
	}

	return s.runner.RunInSerializableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Idempotency: a prompt ID already present makes the append a no-op.
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM slide_prompts WHERE id = $1)`,
			prompt.ID,
		).Scan(&exists)
		if err != nil {
			return MapError(err)
		}
		if exists {
			log.Debug("prompt already stored, skipping append",
				slog.String("prompt_id", prompt.ID.String()),
				slog.String("slide_id", prompt.SlideID.String()))
			return nil
		}

		if prompt.CreatedAt.IsZero() {
			prompt.CreatedAt = time.Now().UTC()
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO slide_prompts (id, slide_id, content, input_tokens, output_tokens, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			prompt.ID,
			prompt.SlideID,
			prompt.Content,
			prompt.InputTokens,
			prompt.OutputTokens,
			prompt.CreatedAt,
		)
		if err != nil {
			return MapError(err)
		}

		// Progress is recomputed from the stored rows rather than
		// incremented, so it can never drift from the actual count. The
		// first prompt for a slide becomes the selected one.
		_, err = tx.ExecContext(ctx,
			`UPDATE slide_prompt_tasks
			 SET progress_succeeded = (SELECT COUNT(*) FROM slide_prompts WHERE slide_id = $1),
			     last_success_at = $2,
			     selected_prompt_id = COALESCE(selected_prompt_id, $3),
			     updated_at = $2
			 WHERE slide_id = $1`,
			prompt.SlideID,
			time.Now().UTC(),
			prompt.ID,
		)
		if err != nil {
			return MapError(err)
		}

		return nil
	})
}

// ListBySlide implements store.PromptStore.ListBySlide
func (s *PostgresPromptStore) ListBySlide(ctx context.Context, slideID uuid.UUID) ([]*domain.SlidePrompt, error) {
	var prompts []*domain.SlidePrompt

	err := s.runner.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, slide_id, content, input_tokens, output_tokens, created_at
			 FROM slide_prompts
			 WHERE slide_id = $1
			 ORDER BY created_at, id`,
			slideID,
		)
		if err != nil {
			return MapError(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var prompt domain.SlidePrompt
			if err := rows.Scan(
				&prompt.ID,
				&prompt.SlideID,
				&prompt.Content,
				&prompt.InputTokens,
				&prompt.OutputTokens,
				&prompt.CreatedAt,
			); err != nil {
				return MapError(err)
			}
			prompts = append(prompts, &prompt)
		}
		return MapError(rows.Err())
	})
	if err != nil {
		return nil, err
	}

	return prompts, nil
}
