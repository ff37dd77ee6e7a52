// Package deckgen drives the two-phase deck generation workflow: research
// the topic, plan the slides, then hand each slide's image-prompt task to
// the queue pipeline.
package deckgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/backoff"
	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/events"
	"github.com/pitchforge/deckgen-api/internal/generation"
	"github.com/pitchforge/deckgen-api/internal/ledger"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// Common sentinel errors for the deck generation service.
var (
	// ErrInvalidRequest indicates a deck request that fails validation.
	ErrInvalidRequest = errors.New("invalid deck generation request")
)

// Bounds on a deck request. A request outside them fails with
// ErrInvalidRequest rather than being clamped silently.
const (
	minSlideCount = 1
	maxSlideCount = 40

	minPromptsPerSlide = 1
	maxPromptsPerSlide = 10
)

// Enqueuer puts a slide's prompt task on the durable queue. Satisfied by the
// queue orchestrator.
type Enqueuer interface {
	Enqueue(ctx context.Context, slideID, deckID, userID uuid.UUID, attempts int) error
}

// CreateDeckRequest is a user's request for a generated deck.
type CreateDeckRequest struct {
	ProjectID       uuid.UUID
	UserID          uuid.UUID
	Topic           string
	SlideCount      int
	PromptsPerSlide int
}

// Config tunes the per-phase generation budget.
type Config struct {
	// MaxRetries is passed to the backoff executor per phase call.
	MaxRetries int

	// CallTimeout is the overall budget for one phase including retries.
	CallTimeout time.Duration
}

// Service owns the deck generation workflow.
type Service struct {
	logger    *slog.Logger
	decks     store.DeckStore
	slides    store.SlideStore
	tasks     store.TaskStore
	prompts   store.PromptStore
	generator generation.DeckGenerator
	executor  *backoff.Executor
	ledger    *ledger.Service
	enqueuer  Enqueuer
	emitter   events.EventEmitter
	cfg       Config
}

// NewService wires the deck generation service's collaborators together.
func NewService(
	logger *slog.Logger,
	decks store.DeckStore,
	slides store.SlideStore,
	tasks store.TaskStore,
	prompts store.PromptStore,
	generator generation.DeckGenerator,
	executor *backoff.Executor,
	usageLedger *ledger.Service,
	enqueuer Enqueuer,
	emitter events.EventEmitter,
	cfg Config,
) *Service {
	return &Service{
		logger:    logger.With(slog.String("component", "deckgen_service")),
		decks:     decks,
		slides:    slides,
		tasks:     tasks,
		prompts:   prompts,
		generator: generator,
		executor:  executor,
		ledger:    usageLedger,
		enqueuer:  enqueuer,
		emitter:   emitter,
		cfg:       cfg,
	}
}

// CreateDeck validates the request and persists a pending deck. Generation
// itself runs through GenerateDeck, typically on a background goroutine.
func (s *Service) CreateDeck(ctx context.Context, req CreateDeckRequest) (*domain.Deck, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	deck, err := domain.NewDeck(req.ProjectID, req.UserID, strings.TrimSpace(req.Topic))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.decks.Create(ctx, deck); err != nil {
		return nil, fmt.Errorf("failed to save deck: %w", err)
	}

	s.logger.InfoContext(ctx, "deck created",
		slog.String("deck_id", deck.ID.String()),
		slog.String("project_id", deck.ProjectID.String()))
	return deck, nil
}

// GenerateDeck runs the full workflow for a pending deck: research, slide
// planning, then one queued image-prompt task per slide. Each phase books
// its token usage under a deterministic request ID, so re-running a deck
// after a crash cannot double-bill a phase that already completed.
func (s *Service) GenerateDeck(ctx context.Context, deckID uuid.UUID, promptsPerSlide, slideCount int) error {
	log := s.logger.With(slog.String("deck_id", deckID.String()))

	deck, err := s.decks.GetByID(ctx, deckID)
	if err != nil {
		return fmt.Errorf("failed to load deck: %w", err)
	}

	if deck.Status == domain.DeckStatusCompleted {
		log.InfoContext(ctx, "deck already completed, nothing to do")
		return nil
	}

	research, err := s.runResearch(ctx, deck)
	if err != nil {
		return s.failDeck(ctx, log, deck, "research", err)
	}

	plan, err := s.runPlanning(ctx, deck, research, slideCount)
	if err != nil {
		return s.failDeck(ctx, log, deck, "slide planning", err)
	}

	if err := s.materialize(ctx, log, deck, plan, promptsPerSlide); err != nil {
		return s.failDeck(ctx, log, deck, "slide creation", err)
	}

	if err := s.decks.UpdateStatus(ctx, deck.ID, domain.DeckStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark deck completed: %w", err)
	}

	log.InfoContext(ctx, "deck generation completed",
		slog.Int("slide_count", len(plan.Slides)))
	return nil
}

func (s *Service) runResearch(ctx context.Context, deck *domain.Deck) (*generation.ResearchResult, error) {
	if err := s.decks.UpdateStatus(ctx, deck.ID, domain.DeckStatusResearching, ""); err != nil {
		return nil, fmt.Errorf("failed to mark deck researching: %w", err)
	}

	result, err := s.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return s.generator.Research(ctx, deck.Topic)
	}, s.cfg.MaxRetries, s.cfg.CallTimeout)
	if err != nil {
		return nil, err
	}

	research := result.(*generation.ResearchResult)
	s.recordPhaseUsage(ctx, deck, "research", "deck.research", research.Usage)
	return research, nil
}

func (s *Service) runPlanning(ctx context.Context, deck *domain.Deck, research *generation.ResearchResult, slideCount int) (*generation.SlidePlan, error) {
	if err := s.decks.UpdateStatus(ctx, deck.ID, domain.DeckStatusGenerating, ""); err != nil {
		return nil, fmt.Errorf("failed to mark deck generating: %w", err)
	}

	result, err := s.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return s.generator.PlanSlides(ctx, deck.Topic, research.Content, slideCount)
	}, s.cfg.MaxRetries, s.cfg.CallTimeout)
	if err != nil {
		return nil, err
	}

	plan := result.(*generation.SlidePlan)
	s.recordPhaseUsage(ctx, deck, "slides", "deck.slides", plan.Usage)
	return plan, nil
}

// materialize persists the planned slides, creates each slide's prompt task,
// and arms the queue. Slides enter the queue pipeline independently; a
// failure here leaves already-queued slides running, which is safe because
// their tasks are idempotent.
func (s *Service) materialize(ctx context.Context, log *slog.Logger, deck *domain.Deck, plan *generation.SlidePlan, promptsPerSlide int) error {
	for position, draft := range plan.Slides {
		slide, err := domain.NewSlide(deck.ID, position, draft.Title, draft.Body)
		if err != nil {
			return fmt.Errorf("invalid slide draft at position %d: %w", position, err)
		}

		if err := s.slides.Create(ctx, slide); err != nil {
			return fmt.Errorf("failed to save slide %d: %w", position, err)
		}

		promptTask := &domain.PromptTask{
			SlideID:     slide.ID,
			DeckID:      deck.ID,
			UserID:      deck.UserID,
			TargetCount: promptsPerSlide,
			State:       domain.TaskStateQueued,
			UpdatedAt:   time.Now().UTC(),
		}
		if err := s.tasks.Create(ctx, promptTask); err != nil {
			return fmt.Errorf("failed to create prompt task for slide %d: %w", position, err)
		}

		if err := s.enqueuer.Enqueue(ctx, slide.ID, deck.ID, deck.UserID, 0); err != nil {
			return fmt.Errorf("failed to enqueue slide %d: %w", position, err)
		}

		event, err := events.NewGenerationEvent(events.TypeSlideQueued, events.SlideQueuedPayload{
			SlideID: slide.ID,
			DeckID:  deck.ID,
			UserID:  deck.UserID,
		})
		if err != nil {
			return fmt.Errorf("failed to build queued event for slide %d: %w", position, err)
		}
		if err := s.emitter.EmitEvent(ctx, event); err != nil {
			// The durable entry exists; the sweep will pick the slide up.
			log.WarnContext(ctx, "failed to emit queued event, falling back to sweep",
				slog.String("slide_id", slide.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// recordPhaseUsage books one phase's token usage. Ledger failures are logged
// rather than failing the deck: the content work succeeded and the ledger's
// idempotency keys do not survive losing it, so surfacing the error would
// only re-run a completed phase.
func (s *Service) recordPhaseUsage(ctx context.Context, deck *domain.Deck, phase, operationKey string, usage generation.Usage) {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return
	}

	err := s.ledger.RecordUsageEvent(ctx, ledger.RecordRequest{
		RequestID:    fmt.Sprintf("deck:%s:%s", deck.ID, phase),
		UserID:       deck.UserID,
		ProjectID:    deck.ProjectID,
		OperationKey: operationKey,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record phase usage",
			slog.String("deck_id", deck.ID.String()),
			slog.String("phase", phase),
			slog.String("error", err.Error()))
	}
}

func (s *Service) failDeck(ctx context.Context, log *slog.Logger, deck *domain.Deck, phase string, cause error) error {
	log.ErrorContext(ctx, "deck generation failed",
		slog.String("phase", phase),
		slog.String("error", cause.Error()))

	msg := fmt.Sprintf("%s failed: %s", phase, cause.Error())
	if err := s.decks.UpdateStatus(ctx, deck.ID, domain.DeckStatusFailed, msg); err != nil {
		log.ErrorContext(ctx, "failed to mark deck failed",
			slog.String("error", err.Error()))
	}

	return fmt.Errorf("deck %s %s: %w", deck.ID, phase, cause)
}

func validateRequest(req CreateDeckRequest) error {
	if req.ProjectID == uuid.Nil {
		return fmt.Errorf("%w: project ID is required", ErrInvalidRequest)
	}
	if req.UserID == uuid.Nil {
		return fmt.Errorf("%w: user ID is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}
	if req.SlideCount < minSlideCount || req.SlideCount > maxSlideCount {
		return fmt.Errorf("%w: slide count must be between %d and %d",
			ErrInvalidRequest, minSlideCount, maxSlideCount)
	}
	if req.PromptsPerSlide < minPromptsPerSlide || req.PromptsPerSlide > maxPromptsPerSlide {
		return fmt.Errorf("%w: prompts per slide must be between %d and %d",
			ErrInvalidRequest, minPromptsPerSlide, maxPromptsPerSlide)
	}
	return nil
}
