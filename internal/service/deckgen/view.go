package deckgen

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
)

// SlideView is one slide plus the state of its image-prompt task.
type SlideView struct {
	Slide     *domain.Slide         `json:"slide"`
	TaskState domain.TaskState      `json:"task_state"`
	Succeeded int                   `json:"succeeded"`
	Target    int                   `json:"target"`
	Error     string                `json:"error,omitempty"`
	Prompts   []*domain.SlidePrompt `json:"prompts"`
}

// DeckView is the full read model of a deck's generation progress.
type DeckView struct {
	Deck   *domain.Deck `json:"deck"`
	Slides []SlideView  `json:"slides"`
}

// GetDeck assembles a deck's current state: the deck row, its slides in
// order, and each slide's task progress and stored prompts.
func (s *Service) GetDeck(ctx context.Context, deckID uuid.UUID) (*DeckView, error) {
	deck, err := s.decks.GetByID(ctx, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deck: %w", err)
	}

	slides, err := s.slides.ListByDeck(ctx, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slides: %w", err)
	}

	view := &DeckView{Deck: deck, Slides: make([]SlideView, 0, len(slides))}
	for _, slide := range slides {
		sv := SlideView{Slide: slide}

		task, err := s.tasks.GetBySlide(ctx, slide.ID)
		if err == nil {
			sv.TaskState = task.State
			sv.Succeeded = task.Progress.Succeeded
			sv.Target = task.TargetCount
			sv.Error = task.Error
		}

		prompts, err := s.prompts.ListBySlide(ctx, slide.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list prompts for slide %s: %w", slide.ID, err)
		}
		sv.Prompts = prompts

		view.Slides = append(view.Slides, sv)
	}

	return view, nil
}
