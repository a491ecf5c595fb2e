package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloo-solutions/kbqa/internal/api/handlers"
	"github.com/cloo-solutions/kbqa/internal/api/middleware"
	"github.com/cloo-solutions/kbqa/internal/chunkstore"
	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/metrics"
	"github.com/cloo-solutions/kbqa/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "kbqa-router-test"

// termEmbedder flags the presence of each vocabulary word.
type termEmbedder []string

func (e termEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	out := make([]float32, len(e))
	for i, w := range e {
		if strings.Contains(lower, w) {
			out[i] = 1
		}
	}
	return out, nil
}

// citingBackend repeats the first context chunk and cites it.
type citingBackend struct{}

func (citingBackend) Complete(_ context.Context, p service.Prompt, _ service.CompletionOptions) (*service.Completion, error) {
	if len(p.ChunkIDs) == 0 {
		return &service.Completion{Text: "No sources matched."}, nil
	}
	text := "The policy answers this."
	return &service.Completion{Text: text, Attribution: &service.Attribution{Segments: []service.AttributedSegment{
		{Start: 0, End: len(text), SourceIDs: []string{p.ChunkIDs[0]}},
	}}}, nil
}

func setupRouter(t *testing.T, auth bool) http.Handler {
	t.Helper()

	embedder := termEmbedder{"refund", "shipping"}
	store := chunkstore.NewMemoryStore(len(embedder))
	reg := metrics.NewRegistry()
	collectors := metrics.New(reg)

	tokenizer := service.WordTokenizer{}
	sessions := service.NewSessionManager(domain.DefaultMaxTurns, collectors)
	engine := service.NewEngine(
		embedder,
		service.NewRetriever(store, service.DefaultRetrieverConfig()),
		service.NewAssembler(tokenizer, service.AssemblerConfig{}),
		service.NewOrchestrator(citingBackend{}, service.NewReconciler(service.DefaultReconcilerConfig()), tokenizer, service.DefaultOrchestratorConfig(), collectors),
		sessions,
		service.DefaultEngineConfig(),
		collectors,
	)
	ingest := service.NewIngestService(embedder, store, service.DefaultIngestConfig(), collectors)

	cfg := RouterConfig{
		MetricsHandler:  metrics.Handler(reg),
		Store:           store,
		AskHandler:      handlers.NewAskHandler(engine),
		SessionHandler:  handlers.NewSessionHandler(engine),
		DocumentHandler: handlers.NewDocumentHandler(ingest),
		ChunkHandler:    handlers.NewChunkHandler(store),
	}
	if auth {
		cfg.AuthValidator = middleware.NewStaticKeyValidator(testAPIKey, "api-key")
	}
	return NewRouter(cfg)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := setupRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"status":"ok","chunks":0}}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

type brokenStore struct{}

func (brokenStore) Count(context.Context) (int, error) { return 0, errors.New("connection refused") }

func TestRouter_HealthReportsStoreOutage(t *testing.T) {
	router := NewRouter(RouterConfig{Store: brokenStore{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrCodeRetrievalUnavailable)
	assert.Equal(t, domain.ErrCodeRetrievalUnavailable, w.Header().Get("X-KBQA-Error-Code"))
}

func TestRouter_AuthenticatedRoutes_RequireAuth(t *testing.T) {
	router := setupRouter(t, true)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/ask"},
		{http.MethodPost, "/sessions"},
		{http.MethodDelete, "/sessions/123"},
		{http.MethodGet, "/sessions/123/history"},
		{http.MethodPost, "/documents"},
		{http.MethodGet, "/chunks"},
		{http.MethodGet, "/chunks/123"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_MetricsUnauthenticated(t *testing.T) {
	router := setupRouter(t, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kbqa_sessions_active")
}

func TestRouter_AskFlow(t *testing.T) {
	router := setupRouter(t, true)

	w := do(t, router, http.MethodPost, "/documents", map[string]string{
		"source_uri": "s3://kb/refunds.md",
		"text":       "Refunds are issued within 30 days of purchase.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var session struct {
		Data service.SessionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))

	w = do(t, router, http.MethodPost, "/ask", map[string]any{
		"session_id": session.Data.ID,
		"query":      "When do I get my refund?",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var answer struct {
		Data domain.Answer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &answer))
	assert.Equal(t, session.Data.ID, answer.Data.SessionID)
	require.Len(t, answer.Data.Citations, 1)
	assert.Equal(t, "s3://kb/refunds.md", answer.Data.Citations[0].SourceURI)
	assert.Equal(t, domain.SpanText(answer.Data.Spans), answer.Data.Text)

	w = do(t, router, http.MethodGet, "/sessions/"+session.Data.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "When do I get my refund?")

	w = do(t, router, http.MethodGet, "/chunks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Refunds are issued")

	w = do(t, router, http.MethodDelete, "/sessions/"+session.Data.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodPost, "/ask", map[string]any{
		"session_id": session.Data.ID,
		"query":      "and shipping?",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AskTokenBudgetTooSmall(t *testing.T) {
	router := setupRouter(t, false)

	w := do(t, router, http.MethodPost, "/ask", map[string]any{"query": "refund?", "token_budget": 4})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrCodeContextOverflow)
}

func TestRouter_NoAuthConfigured(t *testing.T) {
	router := setupRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}
