package generation

import (
	"context"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
)

// Usage carries the token accounting for one generation call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// PromptItem is one generated image prompt with its share of the call's
// token usage. The ID is assigned by the generator and acts as the
// idempotency key for persistence.
type PromptItem struct {
	ID      uuid.UUID
	Content string
	Usage   Usage
}

// PromptBatch is the outcome of one prompt generation call. Items may hold
// fewer entries than requested; the caller treats that as partial progress.
type PromptBatch struct {
	Items []PromptItem
	Usage Usage
}

// PromptGenerator produces image prompts for a slide.
type PromptGenerator interface {
	// GeneratePrompts creates up to count image prompts from the slide's
	// content.
	GeneratePrompts(ctx context.Context, slide *domain.Slide, count int) (*PromptBatch, error)
}

// ResearchResult is the outcome of the deck research phase.
type ResearchResult struct {
	Content string
	Usage   Usage
}

// SlideDraft is one planned slide from the generation phase.
type SlideDraft struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SlidePlan is the outcome of the slide generation phase.
type SlidePlan struct {
	Slides []SlideDraft
	Usage  Usage
}

// DeckGenerator drives the two content phases of deck creation.
type DeckGenerator interface {
	// Research gathers background material on the deck topic.
	Research(ctx context.Context, topic string) (*ResearchResult, error)

	// PlanSlides turns the topic and research material into slide drafts.
	PlanSlides(ctx context.Context, topic, research string, slideCount int) (*SlidePlan, error)
}
