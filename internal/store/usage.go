package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
)

// UsageStore defines the append-only usage event ledger.
type UsageStore interface {
	// GetByRequestID retrieves an event by its idempotency key.
	// Returns ErrNotFound if no event exists.
	GetByRequestID(ctx context.Context, requestID string) (*domain.UsageEvent, error)

	// Create inserts a new event. Returns ErrDuplicate if an event with the
	// same request ID already exists.
	Create(ctx context.Context, event *domain.UsageEvent) error

	// ListPending returns unclaimed pending-cost events plus events whose
	// processing claim is older than staleBefore.
	ListPending(ctx context.Context, staleBefore time.Time, limit int) ([]*domain.UsageEvent, error)

	// Claim marks a pending event as processing with the claim timestamp.
	// An existing claim older than staleBefore may be stolen. Returns false
	// if the event is no longer pending or holds a live claim.
	Claim(ctx context.Context, requestID string, now, staleBefore time.Time) (bool, error)

	// MarkCalculated flips a claimed pending event to calculated with its
	// cost and pricing version. Returns false if the event is no longer
	// pending, so a racing sweep cannot double-apply the cost.
	MarkCalculated(ctx context.Context, requestID string, cost float64, pricingID string, pricingVersion time.Time) (bool, error)

	// ReleaseClaim clears the processing flag so the next sweep retries.
	ReleaseClaim(ctx context.Context, requestID string) error

	// WithTx returns a new UsageStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) UsageStore
}

// AggregateStore maintains per-project token and cost totals via atomic
// increments.
type AggregateStore interface {
	// IncrementTokens adds token counts to the project aggregate.
	IncrementTokens(ctx context.Context, projectID uuid.UUID, kind domain.TokenKind, inputTokens, outputTokens int64) error

	// IncrementCost adds a calculated cost to the project aggregate.
	IncrementCost(ctx context.Context, projectID uuid.UUID, cost float64) error

	// WithTx returns a new AggregateStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) AggregateStore
}

// PricingStore reads model pricing rows maintained out of band.
type PricingStore interface {
	// GetByModel retrieves current pricing for a model key.
	// Returns ErrPricingNotFound when pricing has not been loaded yet.
	GetByModel(ctx context.Context, modelKey string) (*domain.ModelPricing, error)
}
