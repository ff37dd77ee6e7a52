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

// PostgresDeckStore implements the store.DeckStore interface
// using a PostgreSQL database as the storage backend.
type PostgresDeckStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDeckStore creates a new PostgreSQL implementation of the DeckStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresDeckStore(db store.DBTX, logger *slog.Logger) *PostgresDeckStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDeckStore{
		db:     db,
		logger: logger.With(slog.String("component", "deck_store")),
	}
}

// Ensure PostgresDeckStore implements store.DeckStore interface
var _ store.DeckStore = (*PostgresDeckStore)(nil)

// Create implements store.DeckStore.Create
func (s *PostgresDeckStore) Create(ctx context.Context, deck *domain.Deck) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := deck.Validate(); err != nil {
		log.Warn("deck validation failed during create",
			slog.String("error", err.Error()),
			slog.String("deck_id", deck.ID.String()))
		return err
	}

	query := `
		INSERT INTO decks (id, project_id, user_id, topic, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		deck.ID,
		deck.ProjectID,
		deck.UserID,
		deck.Topic,
		deck.Status,
		deck.Error,
		deck.CreatedAt,
		deck.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create deck",
			slog.String("error", err.Error()),
			slog.String("deck_id", deck.ID.String()))
		return MapError(err)
	}

	log.Info("deck created successfully",
		slog.String("deck_id", deck.ID.String()),
		slog.String("status", string(deck.Status)))
	return nil
}

// GetByID implements store.DeckStore.GetByID
func (s *PostgresDeckStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deck, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, project_id, user_id, topic, status, error_message, created_at, updated_at
		FROM decks
		WHERE id = $1
	`

	var deck domain.Deck
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&deck.ID,
		&deck.ProjectID,
		&deck.UserID,
		&deck.Topic,
		&deck.Status,
		&deck.Error,
		&deck.CreatedAt,
		&deck.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrDeckNotFound
		}
		log.Error("failed to get deck",
			slog.String("error", err.Error()),
			slog.String("deck_id", id.String()))
		return nil, MapError(err)
	}

	return &deck, nil
}

// UpdateStatus implements store.DeckStore.UpdateStatus
func (s *PostgresDeckStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.DeckStatus,
	errorMsg string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE decks
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, status, errorMsg, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update deck status",
			slog.String("error", err.Error()),
			slog.String("deck_id", id.String()),
			slog.String("status", string(status)))
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if rows == 0 {
		return store.ErrDeckNotFound
	}

	log.Debug("deck status updated",
		slog.String("deck_id", id.String()),
		slog.String("status", string(status)))
	return nil
}

// WithTx implements store.DeckStore.WithTx
func (s *PostgresDeckStore) WithTx(tx *sql.Tx) store.DeckStore {
	return &PostgresDeckStore{
		db:     tx,
		logger: s.logger,
	}
}
