package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/service/deckgen"
	"github.com/pitchforge/deckgen-api/internal/store"
)

type fakeDeckService struct {
	mu            sync.Mutex
	createErr     error
	getView       *deckgen.DeckView
	getErr        error
	generateCalls int
}

func (s *fakeDeckService) CreateDeck(_ context.Context, req deckgen.CreateDeckRequest) (*domain.Deck, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return domain.NewDeck(req.ProjectID, req.UserID, req.Topic)
}

func (s *fakeDeckService) GenerateDeck(_ context.Context, _ uuid.UUID, _, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateCalls++
	return nil
}

func (s *fakeDeckService) GetDeck(_ context.Context, _ uuid.UUID) (*deckgen.DeckView, error) {
	return s.getView, s.getErr
}

func (s *fakeDeckService) generated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateCalls
}

type fakeRetrier struct {
	err   error
	calls []uuid.UUID
}

func (r *fakeRetrier) RetrySlide(_ context.Context, slideID uuid.UUID) error {
	r.calls = append(r.calls, slideID)
	return r.err
}

func newTestRouter(service *fakeDeckService, retrier *fakeRetrier) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewDeckHandler(service, retrier, logger)

	r := chi.NewRouter()
	r.Post("/api/decks", handler.CreateDeck)
	r.Get("/api/decks/{id}", handler.GetDeck)
	r.Post("/api/slides/{id}/retry", handler.RetrySlide)
	return r
}

func validBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(CreateDeckRequest{
		ProjectID:       uuid.NewString(),
		UserID:          uuid.NewString(),
		Topic:           "observability on a budget",
		SlideCount:      5,
		PromptsPerSlide: 4,
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestCreateDeckHandler(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		service := &fakeDeckService{}
		router := newTestRouter(service, &fakeRetrier{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/decks", validBody(t)))

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp DeckResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(domain.DeckStatusPending), resp.Status)
		assert.Equal(t, "observability on a budget", resp.Topic)

		// Generation is kicked off asynchronously.
		require.Eventually(t, func() bool {
			return service.generated() == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("malformed body", func(t *testing.T) {
		router := newTestRouter(&fakeDeckService{}, &fakeRetrier{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/decks",
			bytes.NewBufferString("{not json")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		router := newTestRouter(&fakeDeckService{}, &fakeRetrier{})

		body, err := json.Marshal(CreateDeckRequest{
			ProjectID:       uuid.NewString(),
			UserID:          uuid.NewString(),
			Topic:           "x",
			SlideCount:      0,
			PromptsPerSlide: 4,
		})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/decks", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("service rejects request", func(t *testing.T) {
		service := &fakeDeckService{createErr: deckgen.ErrInvalidRequest}
		router := newTestRouter(service, &fakeRetrier{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/decks", validBody(t)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("service failure", func(t *testing.T) {
		service := &fakeDeckService{createErr: errors.New("database down")}
		router := newTestRouter(service, &fakeRetrier{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/decks", validBody(t)))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "database down",
			"internal errors are not leaked to clients")
	})
}

func TestGetDeckHandler(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		deck, err := domain.NewDeck(uuid.New(), uuid.New(), "serverless tradeoffs")
		require.NoError(t, err)

		service := &fakeDeckService{getView: &deckgen.DeckView{Deck: deck}}
		router := newTestRouter(service, &fakeRetrier{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/decks/"+deck.ID.String(), nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var view deckgen.DeckView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, deck.ID, view.Deck.ID)
	})

	t.Run("not found", func(t *testing.T) {
		service := &fakeDeckService{getErr: store.ErrDeckNotFound}
		router := newTestRouter(service, &fakeRetrier{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/decks/"+uuid.NewString(), nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		router := newTestRouter(&fakeDeckService{}, &fakeRetrier{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/decks/not-a-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRetrySlideHandler(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		retrier := &fakeRetrier{}
		router := newTestRouter(&fakeDeckService{}, retrier)
		slideID := uuid.New()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/slides/"+slideID.String()+"/retry", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, retrier.calls, 1)
		assert.Equal(t, slideID, retrier.calls[0])
	})

	t.Run("not retryable", func(t *testing.T) {
		retrier := &fakeRetrier{err: domain.ErrIllegalTransition}
		router := newTestRouter(&fakeDeckService{}, retrier)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/slides/"+uuid.NewString()+"/retry", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing task", func(t *testing.T) {
		retrier := &fakeRetrier{err: store.ErrTaskNotFound}
		router := newTestRouter(&fakeDeckService{}, retrier)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/slides/"+uuid.NewString()+"/retry", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
