package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/kbqa/internal/api"
	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/service"
	"github.com/go-chi/chi/v5"
)

type SessionService interface {
	OpenSession() *service.SessionInfo
	EndSession(id string) error
	History(ctx context.Context, id string) (*service.SessionInfo, []domain.Turn, error)
}

type SessionHandler struct {
	svc SessionService
}

func NewSessionHandler(svc SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type HistoryResponse struct {
	Session *service.SessionInfo `json:"session"`
	Turns   []domain.Turn        `json:"turns"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	info := h.svc.OpenSession()
	w.Header().Set(api.SessionHeader, info.ID)
	api.Success(w, http.StatusCreated, info)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "session id is required")
		return
	}

	if err := h.svc.EndSession(id); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "session id is required")
		return
	}

	info, turns, err := h.svc.History(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}

	api.Success(w, http.StatusOK, HistoryResponse{Session: info, Turns: turns})
}
