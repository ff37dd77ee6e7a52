package ledger

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// fakeTxRunner runs the function directly with a nil transaction. The fake
// stores ignore the transaction handle, so this exercises the same paths.
type fakeTxRunner struct{}

func (fakeTxRunner) RunInTransaction(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

func (fakeTxRunner) RunInSerializableTransaction(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

type fakeUsageStore struct {
	mu     sync.Mutex
	events map[string]*domain.UsageEvent
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{events: make(map[string]*domain.UsageEvent)}
}

func (s *fakeUsageStore) GetByRequestID(_ context.Context, requestID string) (*domain.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *fakeUsageStore) Create(_ context.Context, event *domain.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.RequestID]; ok {
		return store.ErrDuplicate
	}
	copied := *event
	s.events[event.RequestID] = &copied
	return nil
}

func (s *fakeUsageStore) ListPending(_ context.Context, staleBefore time.Time, limit int) ([]*domain.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.UsageEvent
	for _, event := range s.events {
		if event.CostStatus != domain.CostStatusPending {
			continue
		}
		if event.Processing && event.ProcessingAt != nil && event.ProcessingAt.After(staleBefore) {
			continue
		}
		if len(out) >= limit {
			break
		}
		copied := *event
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeUsageStore) Claim(_ context.Context, requestID string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[requestID]
	if !ok || event.CostStatus != domain.CostStatusPending {
		return false, nil
	}
	if event.Processing && event.ProcessingAt != nil && !event.ProcessingAt.Before(staleBefore) {
		return false, nil
	}
	event.Processing = true
	at := now
	event.ProcessingAt = &at
	return true, nil
}

func (s *fakeUsageStore) MarkCalculated(_ context.Context, requestID string, cost float64, pricingID string, pricingVersion time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[requestID]
	if !ok || event.CostStatus != domain.CostStatusPending {
		return false, nil
	}
	event.CostStatus = domain.CostStatusCalculated
	event.Cost = cost
	event.PricingID = pricingID
	version := pricingVersion
	event.PricingVersion = &version
	event.Processing = false
	event.ProcessingAt = nil
	return true, nil
}

func (s *fakeUsageStore) ReleaseClaim(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.events[requestID]; ok {
		event.Processing = false
		event.ProcessingAt = nil
	}
	return nil
}

func (s *fakeUsageStore) WithTx(_ *sql.Tx) store.UsageStore { return s }

type projectTotals struct {
	TextInput   int64
	TextOutput  int64
	ImageInput  int64
	ImageOutput int64
	Cost        float64
}

type fakeAggregateStore struct {
	mu     sync.Mutex
	totals map[uuid.UUID]*projectTotals
}

func newFakeAggregateStore() *fakeAggregateStore {
	return &fakeAggregateStore{totals: make(map[uuid.UUID]*projectTotals)}
}

func (s *fakeAggregateStore) get(projectID uuid.UUID) *projectTotals {
	totals, ok := s.totals[projectID]
	if !ok {
		totals = &projectTotals{}
		s.totals[projectID] = totals
	}
	return totals
}

func (s *fakeAggregateStore) IncrementTokens(_ context.Context, projectID uuid.UUID, kind domain.TokenKind, inputTokens, outputTokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := s.get(projectID)
	if kind == domain.TokenKindImage {
		totals.ImageInput += inputTokens
		totals.ImageOutput += outputTokens
	} else {
		totals.TextInput += inputTokens
		totals.TextOutput += outputTokens
	}
	return nil
}

func (s *fakeAggregateStore) IncrementCost(_ context.Context, projectID uuid.UUID, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(projectID).Cost += cost
	return nil
}

func (s *fakeAggregateStore) WithTx(_ *sql.Tx) store.AggregateStore { return s }

func (s *fakeAggregateStore) totalsFor(projectID uuid.UUID) projectTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.get(projectID)
}

type fakePricingStore struct {
	mu      sync.Mutex
	pricing map[string]*domain.ModelPricing
	calls   int
}

func newFakePricingStore() *fakePricingStore {
	return &fakePricingStore{pricing: make(map[string]*domain.ModelPricing)}
}

func (s *fakePricingStore) set(p *domain.ModelPricing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing[p.ID] = p
}

func (s *fakePricingStore) GetByModel(_ context.Context, modelKey string) (*domain.ModelPricing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	pricing, ok := s.pricing[modelKey]
	if !ok {
		return nil, store.ErrPricingNotFound
	}
	copied := *pricing
	return &copied, nil
}

func (s *fakePricingStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
