package service

import (
	"context"
	"errors"
	"sort"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/telemetry"
)

const (
	defaultCandidateMultiplier = 2
	defaultMinCandidates       = 10
	defaultMaxCandidates       = 200
)

// RetrieverConfig controls retrieval behavior.
type RetrieverConfig struct {
	MinScore float32
	// MaxK caps the k a caller may request.
	MaxK int
}

// DefaultRetrieverConfig returns the default retrieval configuration.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		MinScore: 0.2,
		MaxK:     50,
	}
}

// Retriever ranks stored chunks against a query embedding.
type Retriever struct {
	store ChunkStore
	cfg   RetrieverConfig
}

// NewRetriever creates a Retriever over the given store.
func NewRetriever(store ChunkStore, cfg RetrieverConfig) *Retriever {
	return &Retriever{store: store, cfg: cfg}
}

// Retrieve returns at most k results ordered by descending score, newest chunk
// first on ties. Results under the minimum score are dropped; an empty result
// is not an error. Store failures surface as RetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, queryEmbedding []float32, k int, filters domain.RetrievalFilters) ([]domain.RetrievalResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "Retriever.Retrieve", telemetry.SpanAttributes{
		Operation: "retrieve",
		K:         k,
	})
	defer span.End()

	if k <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	if r.cfg.MaxK > 0 && k > r.cfg.MaxK {
		k = r.cfg.MaxK
	}

	candidateLimit := k * defaultCandidateMultiplier
	if candidateLimit < defaultMinCandidates {
		candidateLimit = defaultMinCandidates
	}
	if candidateLimit > defaultMaxCandidates {
		candidateLimit = defaultMaxCandidates
	}

	candidates, err := r.store.Search(ctx, queryEmbedding, filters, candidateLimit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCanceled, "retrieval canceled", ctxErr)
		}
		if errors.Is(err, domain.ErrWrongDimensions) {
			return nil, err
		}
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeRetrievalUnavailable, domain.ErrRetrievalUnavailable.Message, err)
	}

	return rankResults(candidates, k, r.cfg.MinScore), nil
}

// rankResults filters, orders and truncates candidates and assigns 1-based ranks.
func rankResults(candidates []domain.RetrievalResult, k int, minScore float32) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < minScore {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.After(out[j].IngestedAt)
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
