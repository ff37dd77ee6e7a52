package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for SlidePrompt
var (
	ErrEmptyPromptID      = errors.New("prompt ID cannot be empty")
	ErrEmptyPromptSlideID = errors.New("prompt slide ID cannot be empty")
	ErrEmptyPromptContent = errors.New("prompt content cannot be empty")
	ErrNegativeTokens     = errors.New("token counts cannot be negative")
)

// SlidePrompt is one generated image prompt for a slide. The caller-assigned
// ID doubles as the idempotency key for incremental persistence: appending
// the same ID twice stores exactly one row.
type SlidePrompt struct {
	ID           uuid.UUID `json:"id"`
	SlideID      uuid.UUID `json:"slide_id"`
	Content      string    `json:"content"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks if the SlidePrompt has valid data.
func (p *SlidePrompt) Validate() error {
	if p.ID == uuid.Nil {
		return ErrEmptyPromptID
	}

	if p.SlideID == uuid.Nil {
		return ErrEmptyPromptSlideID
	}

	if p.Content == "" {
		return ErrEmptyPromptContent
	}

	if p.InputTokens < 0 || p.OutputTokens < 0 {
		return ErrNegativeTokens
	}

	return nil
}
