package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CostStatus indicates whether a usage event's cost has been computed.
type CostStatus string

// Possible cost status values
const (
	CostStatusPending    CostStatus = "pending"
	CostStatusCalculated CostStatus = "calculated"
)

// TokenKind distinguishes text-model tokens from image-model tokens.
type TokenKind string

// Possible token kinds
const (
	TokenKindText  TokenKind = "text"
	TokenKindImage TokenKind = "image"
)

// Common validation errors for UsageEvent
var (
	ErrEmptyRequestID      = errors.New("usage event request ID cannot be empty")
	ErrEmptyUsageUserID    = errors.New("usage event user ID cannot be empty")
	ErrEmptyUsageProjectID = errors.New("usage event project ID cannot be empty")
	ErrInvalidTokenCount   = errors.New("token count must be a non-negative integer")
)

// UsageEvent is one append-only ledger record of generation API token usage.
// RequestID is the idempotency key: at most one event exists per request, and
// once CostStatus is calculated the event is immutable.
type UsageEvent struct {
	RequestID    string     `json:"request_id"`
	UserID       uuid.UUID  `json:"user_id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	OperationKey string     `json:"operation_key"`
	ModelKey     string     `json:"model_key"`
	TokenKind    TokenKind  `json:"token_kind"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	CostStatus   CostStatus `json:"cost_status"`

	// Cost, PricingID and PricingVersion are set once the cost has been
	// calculated, either at record time or by the reconciliation sweep.
	Cost           float64    `json:"cost,omitempty"`
	PricingID      string     `json:"pricing_id,omitempty"`
	PricingVersion *time.Time `json:"pricing_version,omitempty"`

	// Processing marks an event claimed by a reconciliation sweep;
	// ProcessingAt lets a later sweep reclaim stale claims.
	Processing   bool       `json:"processing"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the usage event's identifying fields and token counts.
func (e *UsageEvent) Validate() error {
	if e.RequestID == "" {
		return ErrEmptyRequestID
	}

	if e.UserID == uuid.Nil {
		return ErrEmptyUsageUserID
	}

	if e.ProjectID == uuid.Nil {
		return ErrEmptyUsageProjectID
	}

	if e.InputTokens < 0 || e.OutputTokens < 0 {
		return ErrInvalidTokenCount
	}

	return nil
}

// ModelPricing holds per-model token prices. UpdatedAt doubles as the
// version stamp recorded on events priced against it.
type ModelPricing struct {
	ID                    string    `json:"id"`
	InputPricePer1MTokens float64   `json:"input_price_per_1m_tokens"`
	OutputPricePer1MToken float64   `json:"output_price_per_1m_tokens"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CostFor computes the cost of the given token counts at this pricing.
func (p *ModelPricing) CostFor(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1_000_000*p.InputPricePer1MTokens +
		float64(outputTokens)/1_000_000*p.OutputPricePer1MToken
}
