package service

import (
	"context"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/pagination"
)

// ChunkStore is the append-only chunk log consulted by retrieval.
// Implementations must allow concurrent readers.
type ChunkStore interface {
	Search(ctx context.Context, embedding []float32, filters domain.RetrievalFilters, limit int) ([]domain.RetrievalResult, error)
	Append(ctx context.Context, chunks []domain.Chunk) error
	Get(ctx context.Context, id string) (*domain.Chunk, error)
	List(ctx context.Context, after *pagination.Cursor, limit int) ([]*domain.Chunk, error)
	Count(ctx context.Context) (int, error)
}

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is an EmbeddingClient that can embed several texts per call.
// Results are index-aligned with texts.
type BatchEmbedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}
