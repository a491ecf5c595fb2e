package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/kbqa/internal/api"
	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/pagination"
	"github.com/go-chi/chi/v5"
)

const (
	defaultChunkPageSize = 50
	maxChunkPageSize     = 200
)

type ChunkReader interface {
	Get(ctx context.Context, id string) (*domain.Chunk, error)
	List(ctx context.Context, after *pagination.Cursor, limit int) ([]*domain.Chunk, error)
}

type ChunkHandler struct {
	store ChunkReader
}

func NewChunkHandler(store ChunkReader) *ChunkHandler {
	return &ChunkHandler{store: store}
}

// ChunkResponse omits the embedding; clients only see its size.
type ChunkResponse struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	SourceURI    string `json:"source_uri"`
	PageOrOffset int    `json:"page_or_offset"`
	Dimensions   int    `json:"dimensions,omitempty"`
	IngestedAt   string `json:"ingested_at"`
}

func chunkToResponse(c *domain.Chunk) ChunkResponse {
	return ChunkResponse{
		ID:           c.ID,
		Text:         c.Text,
		SourceURI:    c.SourceURI,
		PageOrOffset: c.PageOrOffset,
		Dimensions:   len(c.Embedding),
		IngestedAt:   c.IngestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (h *ChunkHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultChunkPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxChunkPageSize)
	}

	cursor, err := pagination.Decode(r.URL.Query().Get("cursor"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	chunks, err := h.store.List(r.Context(), cursor, limit+1)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			api.Error(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		api.HandleError(w, err)
		return
	}

	page := pagination.NewPage(chunks, limit, func(c *domain.Chunk) pagination.Cursor {
		return pagination.Cursor{LastID: c.ID, Timestamp: c.IngestedAt}
	})

	items := make([]ChunkResponse, len(page.Items))
	for i, c := range page.Items {
		items[i] = chunkToResponse(c)
	}

	api.Success(w, http.StatusOK, pagination.Page[ChunkResponse]{
		Items:   items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

func (h *ChunkHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "chunk id is required")
		return
	}

	chunk, err := h.store.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, chunkToResponse(chunk))
}
