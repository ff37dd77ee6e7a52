package task

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/events"
	"github.com/pitchforge/deckgen-api/internal/generation"
	"github.com/pitchforge/deckgen-api/internal/store"
)

type fakeTxRunner struct{}

func (fakeTxRunner) RunInTransaction(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

func (fakeTxRunner) RunInSerializableTransaction(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.PromptTask
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[uuid.UUID]*domain.PromptTask)}
}

func (s *fakeTaskStore) Create(_ context.Context, task *domain.PromptTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *task
	s.tasks[task.SlideID] = &copied
	return nil
}

func (s *fakeTaskStore) GetBySlide(_ context.Context, slideID uuid.UUID) (*domain.PromptTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[slideID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *fakeTaskStore) Transition(_ context.Context, slideID uuid.UUID, to domain.TaskState, update func(*domain.PromptTask)) (*domain.PromptTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[slideID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if err := domain.ValidateTransition(task.State, to); err != nil {
		return nil, err
	}
	task.State = to
	if update != nil {
		update(task)
	}
	task.UpdatedAt = time.Now().UTC()
	copied := *task
	return &copied, nil
}

func (s *fakeTaskStore) ResetForRetry(ctx context.Context, slideID uuid.UUID) error {
	_, err := s.Transition(ctx, slideID, domain.TaskStateQueued, func(t *domain.PromptTask) {
		t.Attempts = 0
		t.NextRetryAt = nil
		t.Error = ""
	})
	return err
}

func (s *fakeTaskStore) WithTx(_ *sql.Tx) store.TaskStore { return s }

// fakePromptStore mirrors the real writer's contract: appends are idempotent
// by prompt ID and the owning task's succeeded count tracks the stored count.
type fakePromptStore struct {
	mu      sync.Mutex
	prompts map[uuid.UUID][]*domain.SlidePrompt
	tasks   *fakeTaskStore
}

func newFakePromptStore(tasks *fakeTaskStore) *fakePromptStore {
	return &fakePromptStore{
		prompts: make(map[uuid.UUID][]*domain.SlidePrompt),
		tasks:   tasks,
	}
}

func (s *fakePromptStore) AppendPrompt(_ context.Context, prompt *domain.SlidePrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.prompts[prompt.SlideID] {
		if existing.ID == prompt.ID {
			return nil
		}
	}
	copied := *prompt
	s.prompts[prompt.SlideID] = append(s.prompts[prompt.SlideID], &copied)

	s.tasks.mu.Lock()
	defer s.tasks.mu.Unlock()
	if task, ok := s.tasks.tasks[prompt.SlideID]; ok {
		task.Progress.Succeeded = len(s.prompts[prompt.SlideID])
		now := time.Now().UTC()
		task.Progress.LastSuccessAt = &now
	}
	return nil
}

func (s *fakePromptStore) ListBySlide(_ context.Context, slideID uuid.UUID) ([]*domain.SlidePrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.SlidePrompt, len(s.prompts[slideID]))
	copy(out, s.prompts[slideID])
	return out, nil
}

type fakeQueueStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.QueueEntry
	tasks   *fakeTaskStore
}

func newFakeQueueStore(tasks *fakeTaskStore) *fakeQueueStore {
	return &fakeQueueStore{entries: make(map[uuid.UUID]*domain.QueueEntry), tasks: tasks}
}

func (s *fakeQueueStore) Enqueue(_ context.Context, entry *domain.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	copied.Status = domain.QueueStatusQueued
	copied.ProcessedAt = nil
	s.entries[entry.SlideID] = &copied
	return nil
}

func (s *fakeQueueStore) Claim(_ context.Context, slideID uuid.UUID, now time.Time) (*domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[slideID]
	if !ok || entry.Status != domain.QueueStatusQueued {
		return nil, store.ErrQueueEntryNotFound
	}
	entry.Status = domain.QueueStatusProcessing
	at := now
	entry.ProcessedAt = &at
	copied := *entry
	return &copied, nil
}

func (s *fakeQueueStore) Delete(_ context.Context, slideID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, slideID)
	return nil
}

func (s *fakeQueueStore) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.QueueEntry
	for slideID, entry := range s.entries {
		if entry.Status != domain.QueueStatusQueued || len(out) >= limit {
			continue
		}
		s.tasks.mu.Lock()
		task, ok := s.tasks.tasks[slideID]
		due := !ok || task.NextRetryAt == nil || !task.NextRetryAt.After(now)
		s.tasks.mu.Unlock()
		if due {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeQueueStore) ResetStale(_ context.Context, olderThan time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset := 0
	cutoff := now.Add(-olderThan)
	for _, entry := range s.entries {
		if entry.Status == domain.QueueStatusProcessing &&
			entry.ProcessedAt != nil && !entry.ProcessedAt.After(cutoff) {
			entry.Status = domain.QueueStatusQueued
			entry.ProcessedAt = nil
			reset++
		}
	}
	return reset, nil
}

func (s *fakeQueueStore) WithTx(_ *sql.Tx) store.QueueStore { return s }

func (s *fakeQueueStore) entryFor(slideID uuid.UUID) *domain.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[slideID]
	if !ok {
		return nil
	}
	copied := *entry
	return &copied
}

type fakeSlideStore struct {
	mu     sync.Mutex
	slides map[uuid.UUID]*domain.Slide
}

func newFakeSlideStore() *fakeSlideStore {
	return &fakeSlideStore{slides: make(map[uuid.UUID]*domain.Slide)}
}

func (s *fakeSlideStore) Create(_ context.Context, slide *domain.Slide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *slide
	s.slides[slide.ID] = &copied
	return nil
}

func (s *fakeSlideStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Slide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slide, ok := s.slides[id]
	if !ok {
		return nil, store.ErrSlideNotFound
	}
	copied := *slide
	return &copied, nil
}

func (s *fakeSlideStore) ListByDeck(_ context.Context, deckID uuid.UUID) ([]*domain.Slide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Slide
	for _, slide := range s.slides {
		if slide.DeckID == deckID {
			copied := *slide
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeSlideStore) WithTx(_ *sql.Tx) store.SlideStore { return s }

type fakeDeckStore struct {
	mu    sync.Mutex
	decks map[uuid.UUID]*domain.Deck
}

func newFakeDeckStore() *fakeDeckStore {
	return &fakeDeckStore{decks: make(map[uuid.UUID]*domain.Deck)}
}

func (s *fakeDeckStore) Create(_ context.Context, deck *domain.Deck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *deck
	s.decks[deck.ID] = &copied
	return nil
}

func (s *fakeDeckStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.decks[id]
	if !ok {
		return nil, store.ErrDeckNotFound
	}
	copied := *deck
	return &copied, nil
}

func (s *fakeDeckStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.DeckStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.decks[id]
	if !ok {
		return store.ErrDeckNotFound
	}
	deck.Status = status
	deck.Error = errorMsg
	return nil
}

func (s *fakeDeckStore) WithTx(_ *sql.Tx) store.DeckStore { return s }

// generatorCall records one GeneratePrompts invocation.
type generatorCall struct {
	SlideID uuid.UUID
	Count   int
}

// scriptedResponse is one canned generator outcome.
type scriptedResponse struct {
	batch *generation.PromptBatch
	err   error
}

// fakeGenerator plays back scripted responses in order, repeating the last
// one when the script runs out.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     []generatorCall
}

func (g *fakeGenerator) GeneratePrompts(_ context.Context, slide *domain.Slide, count int) (*generation.PromptBatch, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generatorCall{SlideID: slide.ID, Count: count})

	idx := len(g.calls) - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	resp := g.responses[idx]
	return resp.batch, resp.err
}

func (g *fakeGenerator) callLog() []generatorCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]generatorCall, len(g.calls))
	copy(out, g.calls)
	return out
}

// batchOf builds a batch of n prompts with fresh IDs and small usage.
func batchOf(n int) *generation.PromptBatch {
	batch := &generation.PromptBatch{
		Usage: generation.Usage{InputTokens: int64(100 * n), OutputTokens: int64(50 * n)},
	}
	for i := 0; i < n; i++ {
		batch.Items = append(batch.Items, generation.PromptItem{
			ID:      uuid.New(),
			Content: "a wide-angle photo of the subject",
			Usage:   generation.Usage{InputTokens: 100, OutputTokens: 50},
		})
	}
	return batch
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []*events.GenerationEvent
}

func (e *fakeEmitter) EmitEvent(_ context.Context, event *events.GenerationEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *fakeEmitter) emitted() []*events.GenerationEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*events.GenerationEvent, len(e.events))
	copy(out, e.events)
	return out
}

// Minimal ledger collaborators so the orchestrator can run against a real
// ledger service.

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

func (s *fakeUsageStore) ListPending(_ context.Context, _ time.Time, _ int) ([]*domain.UsageEvent, error) {
	return nil, nil
}

func (s *fakeUsageStore) Claim(_ context.Context, _ string, _, _ time.Time) (bool, error) {
	return false, nil
}

func (s *fakeUsageStore) MarkCalculated(_ context.Context, _ string, _ float64, _ string, _ time.Time) (bool, error) {
	return false, nil
}

func (s *fakeUsageStore) ReleaseClaim(_ context.Context, _ string) error { return nil }

func (s *fakeUsageStore) WithTx(_ *sql.Tx) store.UsageStore { return s }

func (s *fakeUsageStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeUsageStore) recordedEvents() []*domain.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.UsageEvent
	for _, event := range s.events {
		copied := *event
		out = append(out, &copied)
	}
	return out
}

type fakeAggregateStore struct {
	mu   sync.Mutex
	cost map[uuid.UUID]float64
}

func newFakeAggregateStore() *fakeAggregateStore {
	return &fakeAggregateStore{cost: make(map[uuid.UUID]float64)}
}

func (s *fakeAggregateStore) IncrementTokens(_ context.Context, _ uuid.UUID, _ domain.TokenKind, _, _ int64) error {
	return nil
}

func (s *fakeAggregateStore) IncrementCost(_ context.Context, projectID uuid.UUID, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cost[projectID] += cost
	return nil
}

func (s *fakeAggregateStore) WithTx(_ *sql.Tx) store.AggregateStore { return s }

type fakePricingStore struct{}

func (fakePricingStore) GetByModel(_ context.Context, _ string) (*domain.ModelPricing, error) {
	return nil, store.ErrPricingNotFound
}
