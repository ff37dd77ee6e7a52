package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/generation"
)

const promptTemplate = `You are an art director writing image generation prompts for a presentation slide.

Slide title: %s
Slide content:
%s

Write exactly %d distinct image prompts that visually support this slide.
Respond with a JSON object of the form {"prompts": ["...", "..."]} and nothing else.`

const researchTemplate = `You are a research assistant preparing material for a presentation.

Topic: %s

Produce a concise research brief covering the key facts, themes, and
supporting details a presenter would need. Respond with plain text.`

const planTemplate = `You are a presentation writer.

Topic: %s

Research brief:
%s

Write exactly %d slides for a presentation on this topic.
Respond with a JSON object of the form {"slides": [{"title": "...", "body": "..."}]} and nothing else.`

// promptResponse is the JSON shape Gemini is instructed to return for image
// prompt generation.
type promptResponse struct {
	Prompts []string `json:"prompts"`
}

// planResponse is the JSON shape Gemini is instructed to return for slide
// planning.
type planResponse struct {
	Slides []generation.SlideDraft `json:"slides"`
}

// GeneratePrompts implements generation.PromptGenerator. Each returned item
// gets a fresh ID and an even share of the call's token usage, so partial
// persistence still accounts for roughly the right spend.
func (c *Client) GeneratePrompts(ctx context.Context, slide *domain.Slide, count int) (*generation.PromptBatch, error) {
	if slide == nil {
		return nil, fmt.Errorf("%w: slide cannot be nil", generation.ErrEmptyInput)
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: prompt count must be positive", generation.ErrEmptyInput)
	}

	prompt := fmt.Sprintf(promptTemplate, slide.Title, slide.Body, count)

	text, usage, err := c.generate(ctx, prompt, true)
	if err != nil {
		return nil, err
	}

	var parsed promptResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt response: %v",
			generation.ErrInvalidResponse, err)
	}

	items := make([]generation.PromptItem, 0, len(parsed.Prompts))
	for _, content := range parsed.Prompts {
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		items = append(items, generation.PromptItem{
			ID:      uuid.New(),
			Content: content,
		})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: response contained no prompts", generation.ErrInvalidResponse)
	}

	// The API reports usage per call, not per prompt. Spread it evenly so
	// each persisted prompt carries a defensible share.
	share := generation.Usage{
		InputTokens:  usage.InputTokens / int64(len(items)),
		OutputTokens: usage.OutputTokens / int64(len(items)),
	}
	for i := range items {
		items[i].Usage = share
	}

	if len(items) < count {
		c.logger.WarnContext(ctx, "generated fewer prompts than requested",
			slog.String("slide_id", slide.ID.String()),
			slog.Int("requested", count),
			slog.Int("generated", len(items)))
	}

	return &generation.PromptBatch{Items: items, Usage: usage}, nil
}

// Research implements generation.DeckGenerator.
func (c *Client) Research(ctx context.Context, topic string) (*generation.ResearchResult, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: topic cannot be empty", generation.ErrEmptyInput)
	}

	text, usage, err := c.generate(ctx, fmt.Sprintf(researchTemplate, topic), false)
	if err != nil {
		return nil, err
	}

	return &generation.ResearchResult{Content: text, Usage: usage}, nil
}

// PlanSlides implements generation.DeckGenerator.
func (c *Client) PlanSlides(ctx context.Context, topic, research string, slideCount int) (*generation.SlidePlan, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: topic cannot be empty", generation.ErrEmptyInput)
	}
	if slideCount <= 0 {
		return nil, fmt.Errorf("%w: slide count must be positive", generation.ErrEmptyInput)
	}

	text, usage, err := c.generate(ctx, fmt.Sprintf(planTemplate, topic, research, slideCount), true)
	if err != nil {
		return nil, err
	}

	var parsed planResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse slide plan: %v",
			generation.ErrInvalidResponse, err)
	}
	if len(parsed.Slides) == 0 {
		return nil, fmt.Errorf("%w: response contained no slides", generation.ErrInvalidResponse)
	}

	for i, draft := range parsed.Slides {
		if strings.TrimSpace(draft.Title) == "" {
			return nil, fmt.Errorf("%w: slide %d has an empty title", generation.ErrInvalidResponse, i)
		}
	}

	return &generation.SlidePlan{Slides: parsed.Slides, Usage: usage}, nil
}
