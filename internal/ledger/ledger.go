// Package ledger records generation API token usage as an append-only event
// ledger and maintains per-project aggregates. Events are keyed by request ID
// so retried generation calls never double-bill, and events recorded before
// pricing exists are reconciled later by a sweep.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// Ledger errors.
var (
	// ErrUnknownOperation indicates an operation key outside the closed set
	// of billable operations.
	ErrUnknownOperation = errors.New("unknown usage operation key")

	// ErrTokensOutOfRange indicates a token count that is negative or
	// implausibly large for the operation.
	ErrTokensOutOfRange = errors.New("token count out of range for operation")
)

// RecordRequest carries one generation call's usage into the ledger.
// RequestID is caller-assigned and must be stable across retries of the same
// logical call.
type RecordRequest struct {
	RequestID    string
	UserID       uuid.UUID
	ProjectID    uuid.UUID
	OperationKey string
	InputTokens  int64
	OutputTokens int64
}

// Service is the usage ledger. All writes go through it.
type Service struct {
	logger     *slog.Logger
	runner     store.TxRunner
	usage      store.UsageStore
	aggregates store.AggregateStore
	pricing    *PricingCache

	now func() time.Time
}

// NewService creates a usage ledger service.
func NewService(
	logger *slog.Logger,
	runner store.TxRunner,
	usageStore store.UsageStore,
	aggregateStore store.AggregateStore,
	pricing *PricingCache,
) *Service {
	return &Service{
		logger:     logger.With(slog.String("component", "usage_ledger")),
		runner:     runner,
		usage:      usageStore,
		aggregates: aggregateStore,
		pricing:    pricing,
		now:        time.Now,
	}
}

// RecordUsageEvent appends one usage event and bumps the project aggregates.
// Recording the same request ID again is a no-op. When pricing for the
// operation's model is not loaded yet the event lands with a pending cost and
// only the token aggregates move; the reconciliation sweep settles the cost
// later.
func (s *Service) RecordUsageEvent(ctx context.Context, req RecordRequest) error {
	op, ok := operations[req.OperationKey]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, req.OperationKey)
	}

	if req.InputTokens < 0 || req.OutputTokens < 0 ||
		req.InputTokens > op.MaxInputTokens || req.OutputTokens > op.MaxOutputTokens {
		return fmt.Errorf("%w: %q input=%d output=%d",
			ErrTokensOutOfRange, req.OperationKey, req.InputTokens, req.OutputTokens)
	}

	pricing, err := s.pricing.GetByModel(ctx, op.ModelKey)
	if err != nil && !errors.Is(err, store.ErrPricingNotFound) {
		return fmt.Errorf("failed to resolve pricing for %q: %w", op.ModelKey, err)
	}

	event := &domain.UsageEvent{
		RequestID:    req.RequestID,
		UserID:       req.UserID,
		ProjectID:    req.ProjectID,
		OperationKey: req.OperationKey,
		ModelKey:     op.ModelKey,
		TokenKind:    op.TokenKind,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		CostStatus:   domain.CostStatusPending,
		CreatedAt:    s.now().UTC(),
	}
	if pricing != nil {
		version := pricing.UpdatedAt
		event.CostStatus = domain.CostStatusCalculated
		event.Cost = pricing.CostFor(req.InputTokens, req.OutputTokens)
		event.PricingID = pricing.ID
		event.PricingVersion = &version
	}

	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid usage event: %w", err)
	}

	return s.runner.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		usage := s.usage.WithTx(tx)
		aggregates := s.aggregates.WithTx(tx)

		_, err := usage.GetByRequestID(ctx, req.RequestID)
		if err == nil {
			s.logger.DebugContext(ctx, "usage event already recorded",
				slog.String("request_id", req.RequestID))
			return nil
		}
		if !store.IsNotFoundError(err) {
			return fmt.Errorf("failed to check for existing usage event: %w", err)
		}

		if err := usage.Create(ctx, event); err != nil {
			// A concurrent recorder of the same request won the race.
			if errors.Is(err, store.ErrDuplicate) {
				return nil
			}
			return fmt.Errorf("failed to create usage event: %w", err)
		}

		if err := aggregates.IncrementTokens(ctx, req.ProjectID, op.TokenKind,
			req.InputTokens, req.OutputTokens); err != nil {
			return fmt.Errorf("failed to increment token aggregates: %w", err)
		}

		if event.CostStatus == domain.CostStatusCalculated {
			if err := aggregates.IncrementCost(ctx, req.ProjectID, event.Cost); err != nil {
				return fmt.Errorf("failed to increment cost aggregate: %w", err)
			}
		} else {
			s.logger.InfoContext(ctx, "recorded usage event with pending cost",
				slog.String("request_id", req.RequestID),
				slog.String("model_key", op.ModelKey))
		}

		return nil
	})
}
