package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/kbqa/internal/api"
	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAskHandler_Success(t *testing.T) {
	svc := new(MockAskService)
	answer := &domain.Answer{
		SessionID: "s-1",
		TurnID:    "t-1",
		Text:      "Refunds take 14 days.",
		Spans:     []domain.GeneratedSpan{{Text: "Refunds take 14 days.", ChunkIDs: []string{"c1"}, Grounded: true}},
		Citations: []domain.Citation{{ChunkID: "c1", SourceURI: "s3://kb/refunds.txt"}},
		Attempts:  1,
	}
	expected := service.AskOptions{
		K:           3,
		TokenBudget: 800,
		Timeout:     2 * time.Second,
		Filters:     domain.RetrievalFilters{SourceURIPrefix: "s3://kb/"},
	}
	svc.On("Ask", mock.Anything, "s-1", "how long do refunds take?", expected).Return(answer, nil)

	h := NewAskHandler(svc)
	w := httptest.NewRecorder()
	h.Ask(w, postJSON(t, "/ask", AskRequest{
		SessionID:    "s-1",
		Query:        "how long do refunds take?",
		K:            3,
		TokenBudget:  800,
		TimeoutMS:    2000,
		SourcePrefix: "s3://kb/",
	}))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data domain.Answer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "t-1", resp.Data.TurnID)
	assert.Equal(t, []string{"c1"}, resp.Data.Spans[0].ChunkIDs)
	assert.Equal(t, "s-1", w.Header().Get(api.SessionHeader))
	assert.Equal(t, "t-1", w.Header().Get(api.TurnHeader))
	svc.AssertExpectations(t)
}

func TestAskHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{"empty query", AskRequest{Query: "  "}, "query is required"},
		{"negative k", AskRequest{Query: "q", K: -1}, "must not be negative"},
		{"bad timestamp", AskRequest{Query: "q", IngestedAfter: "yesterday"}, "RFC 3339"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAskService)
			w := httptest.NewRecorder()
			NewAskHandler(svc).Ask(w, postJSON(t, "/ask", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			svc.AssertNotCalled(t, "Ask", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAskHandler_InvalidJSON(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewBufferString("{"))
	NewAskHandler(new(MockAskService)).Ask(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestAskHandler_ParsesIngestedAfter(t *testing.T) {
	svc := new(MockAskService)
	after := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.On("Ask", mock.Anything, "", "q", mock.MatchedBy(func(o service.AskOptions) bool {
		return o.Filters.IngestedAfter.Equal(after)
	})).Return(&domain.Answer{}, nil)

	w := httptest.NewRecorder()
	NewAskHandler(svc).Ask(w, postJSON(t, "/ask", AskRequest{Query: "q", IngestedAfter: "2026-05-01T00:00:00Z"}))

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestAskHandler_ClampsHugeTimeout(t *testing.T) {
	for _, ms := range []int64{600_000, 9_300_000_000_000, math.MaxInt64} {
		svc := new(MockAskService)
		svc.On("Ask", mock.Anything, "", "q", mock.MatchedBy(func(o service.AskOptions) bool {
			return o.Timeout == maxTurnTimeout
		})).Return(&domain.Answer{}, nil)

		w := httptest.NewRecorder()
		NewAskHandler(svc).Ask(w, postJSON(t, "/ask", AskRequest{Query: "q", TimeoutMS: ms}))

		assert.Equal(t, http.StatusOK, w.Code, "timeout_ms=%d", ms)
		svc.AssertExpectations(t)
	}
}

func TestAskHandler_TurnErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
		attempts  int
	}{
		{"unknown session", domain.ErrSessionNotFound, http.StatusNotFound, domain.ErrCodeNotFound, false, 0},
		{"store down", domain.ErrRetrievalUnavailable, http.StatusServiceUnavailable, domain.ErrCodeRetrievalUnavailable, true, 0},
		{"overflow", domain.ErrContextOverflow, http.StatusUnprocessableEntity, domain.ErrCodeContextOverflow, false, 0},
		{"exhausted", domain.NewGenerationFailed(4, assert.AnError), http.StatusBadGateway, domain.ErrCodeGenerationFailed, true, 4},
		{"rejected", domain.NewGenerationRejected(1, assert.AnError), http.StatusUnprocessableEntity, domain.ErrCodeGenerationRejected, false, 1},
		{"deadline", domain.NewDomainErrorWithCause(domain.ErrCodeCanceled, "turn canceled", context.DeadlineExceeded), http.StatusGatewayTimeout, domain.ErrCodeCanceled, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAskService)
			svc.On("Ask", mock.Anything, "", "q", mock.Anything).Return(nil, tt.err)

			w := httptest.NewRecorder()
			NewAskHandler(svc).Ask(w, postJSON(t, "/ask", AskRequest{Query: "q"}))

			assert.Equal(t, tt.status, w.Code)
			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.retryable, resp.Retryable)
			assert.Equal(t, tt.attempts, resp.Attempts)
		})
	}
}
