// Package api implements the HTTP handlers for the deck generation service.
// Authentication and outer routing live in front of this process; handlers
// trust the caller-supplied user and project IDs.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pitchforge/deckgen-api/internal/api/shared"
	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/platform/logger"
	"github.com/pitchforge/deckgen-api/internal/service/deckgen"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// CreateDeckRequest represents the request body for creating a deck.
type CreateDeckRequest struct {
	ProjectID       string `json:"project_id" validate:"required,uuid"`
	UserID          string `json:"user_id" validate:"required,uuid"`
	Topic           string `json:"topic" validate:"required,min=3,max=500"`
	SlideCount      int    `json:"slide_count" validate:"required,gte=1,lte=40"`
	PromptsPerSlide int    `json:"prompts_per_slide" validate:"required,gte=1,lte=10"`
}

// DeckResponse represents the response data for a created deck.
type DeckResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DeckService is the slice of the deck generation service the handler needs.
type DeckService interface {
	CreateDeck(ctx context.Context, req deckgen.CreateDeckRequest) (*domain.Deck, error)
	GenerateDeck(ctx context.Context, deckID uuid.UUID, promptsPerSlide, slideCount int) error
	GetDeck(ctx context.Context, deckID uuid.UUID) (*deckgen.DeckView, error)
}

// SlideRetrier re-arms a permanently failed slide task. Satisfied by the
// queue orchestrator.
type SlideRetrier interface {
	RetrySlide(ctx context.Context, slideID uuid.UUID) error
}

// DeckHandler handles deck-related HTTP requests.
type DeckHandler struct {
	service DeckService
	retrier SlideRetrier
	logger  *slog.Logger
}

// NewDeckHandler creates a new DeckHandler.
func NewDeckHandler(service DeckService, retrier SlideRetrier, logger *slog.Logger) *DeckHandler {
	return &DeckHandler{
		service: service,
		retrier: retrier,
		logger:  logger.With(slog.String("component", "deck_handler")),
	}
}

// CreateDeck handles POST /api/decks. The deck row is written synchronously;
// generation runs in the background and the client polls GetDeck.
func (h *DeckHandler) CreateDeck(w http.ResponseWriter, r *http.Request) {
	var req CreateDeckRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "project_id has invalid format")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "user_id has invalid format")
		return
	}

	deck, err := h.service.CreateDeck(r.Context(), deckgen.CreateDeckRequest{
		ProjectID:       projectID,
		UserID:          userID,
		Topic:           req.Topic,
		SlideCount:      req.SlideCount,
		PromptsPerSlide: req.PromptsPerSlide,
	})
	if err != nil {
		if errors.Is(err, deckgen.ErrInvalidRequest) {
			shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to create deck", err)
		return
	}

	// The request context dies with this response; generation continues on
	// the request's values (trace ID) but not its cancellation.
	bgCtx := context.WithoutCancel(r.Context())
	go func() {
		if err := h.service.GenerateDeck(bgCtx, deck.ID, req.PromptsPerSlide, req.SlideCount); err != nil {
			h.logger.Error("background deck generation failed",
				slog.String("deck_id", deck.ID.String()),
				slog.String("error", err.Error()))
		}
	}()

	shared.RespondWithJSON(w, r, http.StatusAccepted, deckToResponse(deck))
}

// GetDeck handles GET /api/decks/{id}.
func (h *DeckHandler) GetDeck(w http.ResponseWriter, r *http.Request) {
	deckID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	view, err := h.service.GetDeck(r.Context(), deckID)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Deck not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load deck", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// RetrySlide handles POST /api/slides/{id}/retry.
func (h *DeckHandler) RetrySlide(w http.ResponseWriter, r *http.Request) {
	slideID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.retrier.RetrySlide(r.Context(), slideID); err != nil {
		switch {
		case store.IsNotFoundError(err):
			shared.RespondWithError(w, r, http.StatusNotFound, "Slide task not found")
		case errors.Is(err, domain.ErrIllegalTransition):
			shared.RespondWithError(w, r, http.StatusConflict, "Task is not retryable in its current state")
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to retry slide", err)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *DeckHandler) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		log.DebugContext(r.Context(), "invalid path parameter",
			slog.String("param", param),
			slog.String("value", raw))
		shared.RespondWithError(w, r, http.StatusBadRequest, param+" has invalid format")
		return uuid.Nil, false
	}
	return id, true
}

func deckToResponse(deck *domain.Deck) DeckResponse {
	return DeckResponse{
		ID:        deck.ID.String(),
		ProjectID: deck.ProjectID.String(),
		UserID:    deck.UserID.String(),
		Topic:     deck.Topic,
		Status:    string(deck.Status),
		CreatedAt: deck.CreatedAt,
	}
}
