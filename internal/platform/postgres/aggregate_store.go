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

// PostgresAggregateStore implements the store.AggregateStore interface.
// Totals are maintained with atomic in-place increments; the upsert creates
// the project row on first use.
type PostgresAggregateStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAggregateStore creates a new PostgreSQL implementation of the AggregateStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresAggregateStore(db store.DBTX, logger *slog.Logger) *PostgresAggregateStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAggregateStore{
		db:     db,
		logger: logger.With(slog.String("component", "aggregate_store")),
	}
}

// Ensure PostgresAggregateStore implements store.AggregateStore interface
var _ store.AggregateStore = (*PostgresAggregateStore)(nil)

// IncrementTokens implements store.AggregateStore.IncrementTokens
func (s *PostgresAggregateStore) IncrementTokens(
	ctx context.Context,
	projectID uuid.UUID,
	kind domain.TokenKind,
	inputTokens, outputTokens int64,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var query string
	switch kind {
	case domain.TokenKindText:
		query = `
			INSERT INTO project_usage (project_id, text_input_tokens, text_output_tokens, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (project_id) DO UPDATE
			SET text_input_tokens = project_usage.text_input_tokens + EXCLUDED.text_input_tokens,
			    text_output_tokens = project_usage.text_output_tokens + EXCLUDED.text_output_tokens,
			    updated_at = EXCLUDED.updated_at
		`
	case domain.TokenKindImage:
		query = `
			INSERT INTO project_usage (project_id, image_input_tokens, image_output_tokens, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (project_id) DO UPDATE
			SET image_input_tokens = project_usage.image_input_tokens + EXCLUDED.image_input_tokens,
			    image_output_tokens = project_usage.image_output_tokens + EXCLUDED.image_output_tokens,
			    updated_at = EXCLUDED.updated_at
		`
	default:
		return fmt.Errorf("%w: unknown token kind %q", store.ErrInvalidEntity, kind)
	}

	_, err := s.db.ExecContext(ctx, query, projectID, inputTokens, outputTokens, time.Now().UTC())
	if err != nil {
		log.Error("failed to increment token aggregate",
			slog.String("error", err.Error()),
			slog.String("project_id", projectID.String()),
			slog.String("kind", string(kind)))
		return MapError(err)
	}

	return nil
}

// IncrementCost implements store.AggregateStore.IncrementCost
func (s *PostgresAggregateStore) IncrementCost(ctx context.Context, projectID uuid.UUID, cost float64) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO project_usage (project_id, total_cost, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id) DO UPDATE
		SET total_cost = project_usage.total_cost + EXCLUDED.total_cost,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, projectID, cost, time.Now().UTC())
	if err != nil {
		log.Error("failed to increment cost aggregate",
			slog.String("error", err.Error()),
			slog.String("project_id", projectID.String()))
		return MapError(err)
	}

	return nil
}

// WithTx implements store.AggregateStore.WithTx
func (s *PostgresAggregateStore) WithTx(tx *sql.Tx) store.AggregateStore {
	return &PostgresAggregateStore{
		db:     tx,
		logger: s.logger,
	}
}
