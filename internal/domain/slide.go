package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Slide
var (
	ErrEmptySlideID     = errors.New("slide ID cannot be empty")
	ErrEmptySlideDeckID = errors.New("slide deck ID cannot be empty")
	ErrEmptySlideTitle  = errors.New("slide title cannot be empty")
	ErrInvalidSlidePos  = errors.New("slide position must be non-negative")
)

// Slide represents one slide within a generated deck. Its title and body are
// produced by the deck generation phase; image prompts for it are produced
// asynchronously by the queue pipeline.
type Slide struct {
	ID        uuid.UUID `json:"id"`
	DeckID    uuid.UUID `json:"deck_id"`
	Position  int       `json:"position"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSlide creates a new Slide for the given deck at the given position.
// Returns an error if validation fails.
func NewSlide(deckID uuid.UUID, position int, title, body string) (*Slide, error) {
	slide := &Slide{
		ID:        uuid.New(),
		DeckID:    deckID,
		Position:  position,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := slide.Validate(); err != nil {
		return nil, err
	}

	return slide, nil
}

// Validate checks if the Slide has valid data.
func (s *Slide) Validate() error {
	if s.ID == uuid.Nil {
		return ErrEmptySlideID
	}

	if s.DeckID == uuid.Nil {
		return ErrEmptySlideDeckID
	}

	if s.Position < 0 {
		return ErrInvalidSlidePos
	}

	if s.Title == "" {
		return ErrEmptySlideTitle
	}

	return nil
}
