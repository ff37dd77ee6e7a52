package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pitchforge/deckgen-api/internal/api"
	apiMiddleware "github.com/pitchforge/deckgen-api/internal/api/middleware"
)

// setupRouter configures the application router with all routes and
// middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceID)

	deckHandler := api.NewDeckHandler(app.deckService, app.orchestrator, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/decks", deckHandler.CreateDeck)
		r.Get("/decks/{id}", deckHandler.GetDeck)
		r.Post("/slides/{id}/retry", deckHandler.RetrySlide)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	r.Get("/readiness", func(w http.ResponseWriter, r *http.Request) {
		if err := app.db.PingContext(r.Context()); err != nil {
			app.logger.Error("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return r
}
