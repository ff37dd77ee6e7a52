package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/platform/logger"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// PostgresSlideStore implements the store.SlideStore interface
// using a PostgreSQL database as the storage backend.
type PostgresSlideStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSlideStore creates a new PostgreSQL implementation of the SlideStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresSlideStore(db store.DBTX, logger *slog.Logger) *PostgresSlideStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSlideStore{
		db:     db,
		logger: logger.With(slog.String("component", "slide_store")),
	}
}

// Ensure PostgresSlideStore implements store.SlideStore interface
var _ store.SlideStore = (*PostgresSlideStore)(nil)

// Create implements store.SlideStore.Create
func (s *PostgresSlideStore) Create(ctx context.Context, slide *domain.Slide) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := slide.Validate(); err != nil {
		log.Warn("slide validation failed during create",
			slog.String("error", err.Error()),
			slog.String("slide_id", slide.ID.String()))
		return err
	}

	query := `
		INSERT INTO slides (id, deck_id, position, title, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		slide.ID,
		slide.DeckID,
		slide.Position,
		slide.Title,
		slide.Body,
		slide.CreatedAt,
		slide.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create slide",
			slog.String("error", err.Error()),
			slog.String("slide_id", slide.ID.String()),
			slog.String("deck_id", slide.DeckID.String()))
		return MapError(err)
	}

	return nil
}

// GetByID implements store.SlideStore.GetByID
func (s *PostgresSlideStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Slide, error) {
	query := `
		SELECT id, deck_id, position, title, body, created_at, updated_at
		FROM slides
		WHERE id = $1
	`

	var slide domain.Slide
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&slide.ID,
		&slide.DeckID,
		&slide.Position,
		&slide.Title,
		&slide.Body,
		&slide.CreatedAt,
		&slide.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrSlideNotFound
		}
		return nil, MapError(err)
	}

	return &slide, nil
}

// ListByDeck implements store.SlideStore.ListByDeck
func (s *PostgresSlideStore) ListByDeck(ctx context.Context, deckID uuid.UUID) ([]*domain.Slide, error) {
	query := `
		SELECT id, deck_id, position, title, body, created_at, updated_at
		FROM slides
		WHERE deck_id = $1
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, deckID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var slides []*domain.Slide
	for rows.Next() {
		var slide domain.Slide
		if err := rows.Scan(
			&slide.ID,
			&slide.DeckID,
			&slide.Position,
			&slide.Title,
			&slide.Body,
			&slide.CreatedAt,
			&slide.UpdatedAt,
		); err != nil {
			return nil, MapError(err)
		}
		slides = append(slides, &slide)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return slides, nil
}

// WithTx implements store.SlideStore.WithTx
func (s *PostgresSlideStore) WithTx(tx *sql.Tx) store.SlideStore {
	return &PostgresSlideStore{
		db:     tx,
		logger: s.logger,
	}
}
