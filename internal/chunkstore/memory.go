// Package chunkstore provides an in-memory, append-only chunk store.
//
// Readers never take a lock: every append publishes a new immutable view of the
// log through an atomic pointer, and chunks are never modified after they are
// published.
package chunkstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/pagination"
)

// MemoryStore is a brute-force cosine similarity store held entirely in memory.
type MemoryStore struct {
	dimensions int

	// mu serializes writers only.
	mu  sync.Mutex
	log []*domain.Chunk

	view atomic.Pointer[[]*domain.Chunk]
	pos  sync.Map // chunk ID -> index into the log
}

// NewMemoryStore creates an empty store for embeddings of the given dimensionality.
func NewMemoryStore(dimensions int) *MemoryStore {
	s := &MemoryStore{dimensions: dimensions}
	empty := make([]*domain.Chunk, 0)
	s.view.Store(&empty)
	return s
}

// Dimensions returns the fixed embedding dimensionality.
func (s *MemoryStore) Dimensions() int {
	return s.dimensions
}

func (s *MemoryStore) snapshot() []*domain.Chunk {
	return *s.view.Load()
}

// Append validates and appends chunks. The batch is all-or-nothing.
func (s *MemoryStore) Append(ctx context.Context, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	batch := make([]*domain.Chunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for i := range chunks {
		c := chunks[i]
		if err := domain.ValidateChunk(&c, s.dimensions); err != nil {
			return err
		}
		if _, ok := s.pos.Load(c.ID); ok {
			return domain.NewDomainErrorWithCause(domain.ErrCodeAlreadyExists, "chunk "+c.ID+" already exists", domain.ErrChunkAlreadyExists)
		}
		if _, ok := seen[c.ID]; ok {
			return domain.NewDomainErrorWithCause(domain.ErrCodeAlreadyExists, "chunk "+c.ID+" repeated in batch", domain.ErrChunkAlreadyExists)
		}
		seen[c.ID] = struct{}{}
		if c.IngestedAt.IsZero() {
			c.IngestedAt = now
		}
		emb := make([]float32, len(c.Embedding))
		copy(emb, c.Embedding)
		c.Embedding = emb
		batch = append(batch, &c)
	}

	start := len(s.log)
	s.log = append(s.log, batch...)
	published := s.log[:len(s.log):len(s.log)]
	s.view.Store(&published)

	// Index after publishing so a reader that finds a position can always load it.
	for i, c := range batch {
		s.pos.Store(c.ID, start+i)
	}
	return nil
}

// Get returns a stored chunk by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	p, ok := s.pos.Load(id)
	if !ok {
		return nil, domain.ErrChunkNotFound
	}
	c := *s.snapshot()[p.(int)]
	return &c, nil
}

// Count returns the number of stored chunks.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	return len(s.snapshot()), nil
}

// List returns chunks in ingestion order, starting after the cursor position.
func (s *MemoryStore) List(ctx context.Context, after *pagination.Cursor, limit int) ([]*domain.Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	view := s.snapshot()
	start := 0
	if after != nil {
		p, ok := s.pos.Load(after.LastID)
		if !ok {
			return nil, pagination.ErrInvalidCursor
		}
		start = p.(int) + 1
	}

	out := make([]*domain.Chunk, 0, limit)
	for i := start; i < len(view) && len(out) < limit; i++ {
		c := *view[i]
		out = append(out, &c)
	}
	return out, nil
}

// Search scores every chunk passing filters by cosine similarity and returns
// the best limit results, highest score first, newest first on ties.
func (s *MemoryStore) Search(ctx context.Context, embedding []float32, filters domain.RetrievalFilters, limit int) ([]domain.RetrievalResult, error) {
	if s.dimensions > 0 && len(embedding) != s.dimensions {
		return nil, domain.ErrWrongDimensions
	}
	if limit <= 0 {
		return []domain.RetrievalResult{}, nil
	}

	view := s.snapshot()
	results := make([]domain.RetrievalResult, 0, len(view))
	for i, c := range view {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !filters.Match(c) {
			continue
		}
		results = append(results, domain.NewRetrievalResult(c, cosineSimilarity(embedding, c.Embedding)))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].IngestedAt.After(results[j].IngestedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
