package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/kbqa/internal/api"
	"github.com/cloo-solutions/kbqa/internal/api/handlers"
	"github.com/cloo-solutions/kbqa/internal/api/middleware"
	"github.com/cloo-solutions/kbqa/internal/domain"
)

const healthTimeout = 2 * time.Second

// ChunkCounter backs the health probe.
type ChunkCounter interface {
	Count(ctx context.Context) (int, error)
}

type RouterConfig struct {
	// AuthValidator guards every route except /health and /metrics. Nil disables auth.
	AuthValidator   middleware.AuthValidator
	MetricsHandler  http.Handler
	Store           ChunkCounter
	AskHandler      *handlers.AskHandler
	SessionHandler  *handlers.SessionHandler
	DocumentHandler *handlers.DocumentHandler
	ChunkHandler    *handlers.ChunkHandler
}

type healthResponse struct {
	Status string `json:"status"`
	Chunks *int   `json:"chunks,omitempty"`
}

func health(store ChunkCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			api.Success(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		n, err := store.Count(ctx)
		if err != nil {
			api.HandleError(w, domain.NewDomainErrorWithCause(domain.ErrCodeRetrievalUnavailable, "chunk store unreachable", err))
			return
		}
		api.Success(w, http.StatusOK, healthResponse{Status: "ok", Chunks: &n})
	}
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID, middleware.SentryMiddleware, middleware.AccessLog)

	r.Get("/health", health(cfg.Store))
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.AuthValidator != nil {
			r.Use(middleware.APIKeyAuth(cfg.AuthValidator))
		}

		small := middleware.MaxBodyBytes(middleware.QueryBodyLimit)
		r.With(small).Post("/ask", cfg.AskHandler.Ask)
		r.With(small).Post("/sessions", cfg.SessionHandler.Create)
		r.Delete("/sessions/{id}", cfg.SessionHandler.Delete)
		r.Get("/sessions/{id}/history", cfg.SessionHandler.History)

		r.With(middleware.MaxBodyBytes(middleware.DocumentBodyLimit)).Post("/documents", cfg.DocumentHandler.Ingest)
		r.Get("/chunks", cfg.ChunkHandler.List)
		r.Get("/chunks/{id}", cfg.ChunkHandler.Get)
	})

	return r
}
