package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var result ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func TestSuccess_WrapsDataEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	Success(w, http.StatusCreated, map[string]string{"session_id": "s-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"session_id":"s-1"}}`, w.Body.String())
}

func TestJSON_NoBodyForNil(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestError_CodeFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, domain.ErrCodeValidation},
		{http.StatusRequestEntityTooLarge, domain.ErrCodeValidation},
		{http.StatusUnauthorized, domain.ErrCodeUnauthorized},
		{http.StatusNotFound, domain.ErrCodeNotFound},
		{http.StatusConflict, domain.ErrCodeAlreadyExists},
		{http.StatusTeapot, ""},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			w := httptest.NewRecorder()
			Error(w, tt.status, "nope")

			assert.Equal(t, tt.status, w.Code)
			result := decodeError(t, w)
			assert.Equal(t, "nope", result.Error)
			assert.Equal(t, tt.code, result.Code)
			assert.Equal(t, tt.code, w.Header().Get(ErrorCodeHeader))
		})
	}
}

func TestDomainErrorToHTTP(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, http.StatusOK},
		{"empty query", domain.ErrEmptyQuery, http.StatusBadRequest},
		{"unknown session", domain.ErrSessionNotFound, http.StatusNotFound},
		{"duplicate chunk", domain.ErrChunkAlreadyExists, http.StatusConflict},
		{"bad api key", domain.ErrInvalidAPIKey, http.StatusUnauthorized},
		{"retrieval unavailable", domain.ErrRetrievalUnavailable, http.StatusServiceUnavailable},
		{"context overflow", domain.ErrContextOverflow, http.StatusUnprocessableEntity},
		{"generation failed", domain.NewGenerationFailed(4, assert.AnError), http.StatusBadGateway},
		{"generation rejected", domain.NewGenerationRejected(1, assert.AnError), http.StatusUnprocessableEntity},
		{"deadline", domain.NewDomainErrorWithCause(domain.ErrCodeCanceled, "turn canceled", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"client went away", domain.NewDomainErrorWithCause(domain.ErrCodeCanceled, "turn canceled", context.Canceled), StatusClientClosedRequest},
		{"wrapped", fmt.Errorf("ask: %w", domain.ErrSessionNotFound), http.StatusNotFound},
		{"consistency", domain.ErrConsistencyViolation, http.StatusInternalServerError},
		{"unmapped code", domain.NewDomainError("SOMETHING_ELSE", "x"), http.StatusInternalServerError},
		{"plain error", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DomainErrorToHTTP(tt.err))
		})
	}
}

func TestHandleError_DomainError(t *testing.T) {
	w := httptest.NewRecorder()

	HandleError(w, domain.ErrSessionNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)
	result := decodeError(t, w)
	assert.Contains(t, result.Error, "session not found")
	assert.Equal(t, domain.ErrCodeNotFound, result.Code)
	assert.False(t, result.Retryable)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestHandleError_GenerationFailedIsRetryable(t *testing.T) {
	w := httptest.NewRecorder()

	HandleError(w, domain.NewGenerationFailed(3, assert.AnError))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	result := decodeError(t, w)
	assert.Equal(t, domain.ErrCodeGenerationFailed, result.Code)
	assert.True(t, result.Retryable)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, retryAfterSeconds, w.Header().Get("Retry-After"))
}

func TestHandleError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()

	HandleError(w, fmt.Errorf("dial tcp 10.0.0.3:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	result := decodeError(t, w)
	assert.Equal(t, "internal server error", result.Error)
	assert.Equal(t, domain.ErrCodeInternalError, result.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Query string `json:"query"`
	}

	t.Run("valid body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"hi"}`))

		var dst payload
		require.True(t, DecodeJSON(w, r, &dst))
		assert.Equal(t, "hi", dst.Query)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", http.NoBody)

		var dst payload
		assert.False(t, DecodeJSON(w, r, &dst))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "request body is empty", decodeError(t, w).Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":`))

		var dst payload
		assert.False(t, DecodeJSON(w, r, &dst))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, domain.ErrCodeValidation, decodeError(t, w).Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		w := httptest.NewRecorder()
		body := `{"query":"` + string(bytes.Repeat([]byte("a"), 256)) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Body = http.MaxBytesReader(w, r.Body, 64)

		var dst payload
		assert.False(t, DecodeJSON(w, r, &dst))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, decodeError(t, w).Error, "64 bytes")
	})
}
