package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/store"
)

const (
	// reconcileBatchLimit caps events handled per sweep run.
	reconcileBatchLimit = 100

	// reconcileClaimStaleness is how long a processing claim can sit before
	// another sweep may take the event over. Claims have no heartbeat; a
	// crashed sweep simply ages out.
	reconcileClaimStaleness = 10 * time.Minute
)

// ProcessPendingUsageEvents settles the cost of events recorded while
// pricing was missing. It claims each candidate, recomputes the cost against
// current pricing, and applies it exactly once; events whose pricing is
// still missing are released for the next sweep. Returns the number of
// events settled.
//
// A failure on one event never aborts the batch.
func (s *Service) ProcessPendingUsageEvents(ctx context.Context) (int, error) {
	now := s.now().UTC()
	staleBefore := now.Add(-reconcileClaimStaleness)

	events, err := s.usage.ListPending(ctx, staleBefore, reconcileBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending usage events: %w", err)
	}

	if len(events) == 0 {
		return 0, nil
	}

	s.logger.InfoContext(ctx, "reconciling pending usage events",
		slog.Int("candidate_count", len(events)))

	settled := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}

		ok, err := s.reconcileOne(ctx, event, now, staleBefore)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to reconcile usage event",
				slog.String("request_id", event.RequestID),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			settled++
		}
	}

	return settled, nil
}

// reconcileOne settles a single event. It reports false without error when
// the event was skipped legitimately: the claim was lost to a racing sweep,
// or pricing is still missing.
func (s *Service) reconcileOne(ctx context.Context, event *domain.UsageEvent, now, staleBefore time.Time) (bool, error) {
	claimed, err := s.usage.Claim(ctx, event.RequestID, now, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return false, nil
	}

	pricing, err := s.pricing.GetByModel(ctx, event.ModelKey)
	if err != nil {
		if releaseErr := s.usage.ReleaseClaim(ctx, event.RequestID); releaseErr != nil {
			return false, fmt.Errorf("release claim after pricing lookup failed: %w", releaseErr)
		}
		if errors.Is(err, store.ErrPricingNotFound) {
			s.logger.DebugContext(ctx, "pricing still missing, released claim",
				slog.String("request_id", event.RequestID),
				slog.String("model_key", event.ModelKey))
			return false, nil
		}
		return false, fmt.Errorf("pricing lookup: %w", err)
	}

	cost := pricing.CostFor(event.InputTokens, event.OutputTokens)

	err = s.runner.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		usage := s.usage.WithTx(tx)
		aggregates := s.aggregates.WithTx(tx)

		flipped, err := usage.MarkCalculated(ctx, event.RequestID, cost,
			pricing.ID, pricing.UpdatedAt)
		if err != nil {
			return fmt.Errorf("mark calculated: %w", err)
		}
		if !flipped {
			// Already calculated by a racing sweep; the cost was applied
			// there, so applying it here too would double-bill.
			return nil
		}

		if err := aggregates.IncrementCost(ctx, event.ProjectID, cost); err != nil {
			return fmt.Errorf("increment cost aggregate: %w", err)
		}

		s.logger.InfoContext(ctx, "settled pending usage event",
			slog.String("request_id", event.RequestID),
			slog.Float64("cost", cost))
		return nil
	})
	if err != nil {
		return false, err
	}

	return true, nil
}
