package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRetriever_RefundPolicyExample(t *testing.T) {
	store := new(MockChunkStore)
	retriever := NewRetriever(store, RetrieverConfig{MinScore: 0.1})
	ctx := context.Background()
	emb := []float32{1, 0}

	store.On("Search", mock.Anything, emb, domain.RetrievalFilters{}, mock.Anything).Return([]domain.RetrievalResult{
		result("A", 0.9),
		result("B", 0.7),
		result("C", 0.95),
	}, nil)

	results, err := retriever.Retrieve(ctx, emb, 2, domain.RetrievalFilters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "C", results[0].ChunkID)
	assert.Equal(t, "A", results[1].ChunkID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
	store.AssertExpectations(t)
}

func TestRetriever_TruncatesToK(t *testing.T) {
	store := new(MockChunkStore)
	retriever := NewRetriever(store, RetrieverConfig{})

	store.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]domain.RetrievalResult{
		result("a", 0.5), result("b", 0.8), result("c", 0.3), result("d", 0.9), result("e", 0.6),
	}, nil)

	results, err := retriever.Retrieve(context.Background(), []float32{1}, 3, domain.RetrievalFilters{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, []string{"d", "b", "e"}, []string{results[0].ChunkID, results[1].ChunkID, results[2].ChunkID})
}

func TestRetriever_TieBreaksOnRecency(t *testing.T) {
	store := new(MockChunkStore)
	retriever := NewRetriever(store, RetrieverConfig{})

	older := result("older", 0.8)
	newer := result("newer", 0.8)
	newer.IngestedAt = older.IngestedAt.Add(time.Minute)
	store.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.RetrievalResult{older, newer}, nil)

	results, err := retriever.Retrieve(context.Background(), []float32{1}, 2, domain.RetrievalFilters{})
	require.NoError(t, err)
	assert.Equal(t, "newer", results[0].ChunkID)
	assert.Equal(t, "older", results[1].ChunkID)
}

func TestRetriever_BelowMinScoreIsEmptyNotError(t *testing.T) {
	store := new(MockChunkStore)
	retriever := NewRetriever(store, RetrieverConfig{MinScore: 0.5})

	store.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.RetrievalResult{result("a", 0.2), result("b", 0.49)}, nil)

	results, err := retriever.Retrieve(context.Background(), []float32{1}, 5, domain.RetrievalFilters{})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetriever_StoreFailureIsRetrievalUnavailable(t *testing.T) {
	store := new(MockChunkStore)
	retriever := NewRetriever(store, RetrieverConfig{})

	store.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := retriever.Retrieve(context.Background(), []float32{1}, 5, domain.RetrievalFilters{})
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
	assert.True(t, domain.IsRetryable(err))
}

func TestRetriever_ZeroK(t *testing.T) {
	store := new(MockChunkStore)
	retriever := NewRetriever(store, RetrieverConfig{})

	results, err := retriever.Retrieve(context.Background(), []float32{1}, 0, domain.RetrievalFilters{})
	require.NoError(t, err)
	assert.Empty(t, results)
	store.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
