package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/pagination"
)

// MockEmbeddingClient mocks the embedding API
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockChunkStore mocks the chunk store
type MockChunkStore struct {
	mock.Mock
}

func (m *MockChunkStore) Search(ctx context.Context, embedding []float32, filters domain.RetrievalFilters, limit int) ([]domain.RetrievalResult, error) {
	args := m.Called(ctx, embedding, filters, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievalResult), args.Error(1)
}

func (m *MockChunkStore) Append(ctx context.Context, chunks []domain.Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockChunkStore) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chunk), args.Error(1)
}

func (m *MockChunkStore) List(ctx context.Context, after *pagination.Cursor, limit int) ([]*domain.Chunk, error) {
	args := m.Called(ctx, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

func (m *MockChunkStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockBackend mocks a generation backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Complete(ctx context.Context, prompt Prompt, opts CompletionOptions) (*Completion, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Completion), args.Error(1)
}

// funcBackend adapts a function into a GenerationBackend.
type funcBackend func(ctx context.Context, prompt Prompt) (*Completion, error)

func (f funcBackend) Complete(ctx context.Context, prompt Prompt, _ CompletionOptions) (*Completion, error) {
	return f(ctx, prompt)
}

// recordingMetrics captures metric calls.
type recordingMetrics struct {
	mu         sync.Mutex
	turns      []string
	attempts   []int
	violations int
	sessions   int
	ingested   int
}

func (r *recordingMetrics) TurnCompleted(code string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, code)
}

func (r *recordingMetrics) GenerationAttempts(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, n)
}

func (r *recordingMetrics) ConsistencyViolations(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations += n
}

func (r *recordingMetrics) SessionsActive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = n
}

func (r *recordingMetrics) ChunksIngested(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested += n
}

func result(id string, score float32) domain.RetrievalResult {
	return domain.RetrievalResult{
		ChunkID:    id,
		SourceURI:  "doc://" + id,
		Text:       "text of " + id,
		IngestedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Score:      score,
	}
}
