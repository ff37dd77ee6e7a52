package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
)

// DeckStore defines the interface for deck persistence.
type DeckStore interface {
	// Create saves a new deck to the store.
	Create(ctx context.Context, deck *domain.Deck) error

	// GetByID retrieves a deck by its unique ID.
	// Returns ErrDeckNotFound if the deck does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Deck, error)

	// UpdateStatus updates a deck's workflow status and error message.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DeckStatus, errorMsg string) error

	// WithTx returns a new DeckStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) DeckStore
}

// SlideStore defines the interface for slide persistence.
type SlideStore interface {
	// Create saves a new slide to the store.
	Create(ctx context.Context, slide *domain.Slide) error

	// GetByID retrieves a slide by its unique ID.
	// Returns ErrSlideNotFound if the slide does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Slide, error)

	// ListByDeck retrieves a deck's slides ordered by position.
	ListByDeck(ctx context.Context, deckID uuid.UUID) ([]*domain.Slide, error)

	// WithTx returns a new SlideStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) SlideStore
}
