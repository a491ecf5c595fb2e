package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/kbqa/internal/api"
	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/service"
)

// maxTurnTimeout caps the per-request timeout a client may ask for.
const maxTurnTimeout = 5 * time.Minute

type AskService interface {
	Ask(ctx context.Context, sessionID, queryText string, opts service.AskOptions) (*domain.Answer, error)
}

type AskHandler struct {
	svc AskService
}

func NewAskHandler(svc AskService) *AskHandler {
	return &AskHandler{svc: svc}
}

type AskRequest struct {
	SessionID     string `json:"session_id,omitempty"`
	Query         string `json:"query"`
	K             int    `json:"k,omitempty"`
	TokenBudget   int    `json:"token_budget,omitempty"`
	TimeoutMS     int64  `json:"timeout_ms,omitempty"`
	SourcePrefix  string `json:"source_prefix,omitempty"`
	IngestedAfter string `json:"ingested_after,omitempty"`
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K < 0 || req.TokenBudget < 0 || req.TimeoutMS < 0 {
		api.Error(w, http.StatusBadRequest, "k, token_budget and timeout_ms must not be negative")
		return
	}

	timeoutMS := min(req.TimeoutMS, maxTurnTimeout.Milliseconds())
	opts := service.AskOptions{
		K:           req.K,
		TokenBudget: req.TokenBudget,
		Timeout:     time.Duration(timeoutMS) * time.Millisecond,
		Filters: domain.RetrievalFilters{
			SourceURIPrefix: req.SourcePrefix,
		},
	}
	if req.IngestedAfter != "" {
		after, err := time.Parse(time.RFC3339, req.IngestedAfter)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "ingested_after must be an RFC 3339 timestamp")
			return
		}
		opts.Filters.IngestedAfter = after
	}

	if req.SessionID != "" {
		w.Header().Set(api.SessionHeader, req.SessionID)
	}
	answer, err := h.svc.Ask(r.Context(), req.SessionID, req.Query, opts)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	w.Header().Set(api.SessionHeader, answer.SessionID)
	w.Header().Set(api.TurnHeader, answer.TurnID)
	api.Success(w, http.StatusOK, answer)
}
