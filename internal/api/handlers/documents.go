package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloo-solutions/kbqa/internal/api"
	"github.com/cloo-solutions/kbqa/internal/service"
)

type IngestService interface {
	IngestDocument(ctx context.Context, doc service.DocumentInput) (*service.IngestResult, error)
}

type DocumentHandler struct {
	svc IngestService
}

func NewDocumentHandler(svc IngestService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type IngestDocumentRequest struct {
	SourceURI string `json:"source_uri"`
	Text      string `json:"text"`
}

func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestDocumentRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	if req.SourceURI == "" {
		api.Error(w, http.StatusBadRequest, "source_uri is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.svc.IngestDocument(r.Context(), service.DocumentInput{
		SourceURI: req.SourceURI,
		Text:      req.Text,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, result)
}
