package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DeckStatus represents the processing state of a deck generation workflow.
type DeckStatus string

// Possible deck status values
const (
	DeckStatusPending     DeckStatus = "pending"
	DeckStatusResearching DeckStatus = "researching"
	DeckStatusGenerating  DeckStatus = "generating"
	DeckStatusCompleted   DeckStatus = "completed"
	DeckStatusFailed      DeckStatus = "failed"
)

// Common validation errors for Deck
var (
	ErrEmptyDeckID        = errors.New("deck ID cannot be empty")
	ErrEmptyDeckProjectID = errors.New("deck project ID cannot be empty")
	ErrEmptyDeckUserID    = errors.New("deck user ID cannot be empty")
	ErrEmptyDeckTopic     = errors.New("deck topic cannot be empty")
	ErrInvalidDeckStatus  = errors.New("invalid deck status")
)

// Deck represents one slide deck request submitted by a user. It tracks the
// topic used for content generation and the overall workflow state.
type Deck struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID uuid.UUID  `json:"project_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Topic     string     `json:"topic"`
	Status    DeckStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewDeck creates a new Deck with the given owners and topic.
// It generates a new UUID for the deck ID, sets the status to pending,
// and sets the creation/update timestamps.
// Returns an error if validation fails.
func NewDeck(projectID, userID uuid.UUID, topic string) (*Deck, error) {
	deck := &Deck{
		ID:        uuid.New(),
		ProjectID: projectID,
		UserID:    userID,
		Topic:     topic,
		Status:    DeckStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := deck.Validate(); err != nil {
		return nil, err
	}

	return deck, nil
}

// Validate checks if the Deck has valid data.
// Returns an error if any field fails validation.
func (d *Deck) Validate() error {
	if d.ID == uuid.Nil {
		return ErrEmptyDeckID
	}

	if d.ProjectID == uuid.Nil {
		return ErrEmptyDeckProjectID
	}

	if d.UserID == uuid.Nil {
		return ErrEmptyDeckUserID
	}

	if d.Topic == "" {
		return ErrEmptyDeckTopic
	}

	if !isValidDeckStatus(d.Status) {
		return ErrInvalidDeckStatus
	}

	return nil
}

// UpdateStatus updates the deck's status and the UpdatedAt timestamp.
// Returns an error if the new status is invalid.
func (d *Deck) UpdateStatus(status DeckStatus) error {
	if !isValidDeckStatus(status) {
		return ErrInvalidDeckStatus
	}

	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func isValidDeckStatus(status DeckStatus) bool {
	switch status {
	case DeckStatusPending, DeckStatusResearching, DeckStatusGenerating,
		DeckStatusCompleted, DeckStatusFailed:
		return true
	default:
		return false
	}
}
