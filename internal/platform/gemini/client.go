// Package gemini implements the generation interfaces using Google's Gemini
// API via the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/pitchforge/deckgen-api/internal/config"
	"github.com/pitchforge/deckgen-api/internal/generation"
)

// Client wraps the genai SDK with request-rate smoothing and response
// validation. Retry, concurrency capping, and circuit breaking live in the
// backoff package; the client's limiter only spaces requests out.
type Client struct {
	logger  *slog.Logger
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewClient creates a new Gemini client from the LLM configuration.
//
// Returns an error if the configuration is incomplete or the underlying SDK
// client cannot be constructed.
func NewClient(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &Client{
		logger:  logger.With(slog.String("component", "gemini_client")),
		client:  client,
		model:   cfg.ModelName,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// generate makes one Gemini call and returns the response text plus token
// usage. Upstream failures come back as *APIError so the backoff controller
// can classify them; malformed responses are permanent errors.
func (c *Client) generate(ctx context.Context, prompt string, jsonResponse bool) (string, generation.Usage, error) {
	var usage generation.Usage

	if prompt == "" {
		return "", usage, generation.ErrEmptyInput
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", usage, fmt.Errorf("rate limiter wait: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	if jsonResponse {
		cfg.ResponseMIMEType = "application/json"
	}

	c.logger.DebugContext(ctx, "making Gemini API call",
		slog.String("model", c.model),
		slog.Int("prompt_length", len(prompt)))

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", usage, mapError(err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", usage, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", usage, fmt.Errorf("%w: finish reason safety", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", usage, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	text := resp.Text()
	if text == "" {
		return "", usage, fmt.Errorf("%w: empty text in response", generation.ErrInvalidResponse)
	}

	c.logger.DebugContext(ctx, "Gemini API call succeeded",
		slog.Int64("input_tokens", usage.InputTokens),
		slog.Int64("output_tokens", usage.OutputTokens))

	return text, usage, nil
}
