package domain

import (
	"strings"
	"time"
)

// RetrievalFilters narrows the candidate chunks considered by a search.
type RetrievalFilters struct {
	SourceURIPrefix string
	IngestedAfter   time.Time
}

// Match reports whether a chunk passes the filters.
func (f RetrievalFilters) Match(c *Chunk) bool {
	if f.SourceURIPrefix != "" && !strings.HasPrefix(c.SourceURI, f.SourceURIPrefix) {
		return false
	}
	if !f.IngestedAfter.IsZero() && !c.IngestedAt.After(f.IngestedAfter) {
		return false
	}
	return true
}

// RetrievalResult is a scored reference to a stored chunk.
// It carries a read-only projection of the chunk and never its embedding.
type RetrievalResult struct {
	ChunkID      string
	SourceURI    string
	PageOrOffset int
	Text         string
	IngestedAt   time.Time
	Score        float32
	Rank         int
}

// SourceKey identifies the source location of the referenced chunk.
func (r RetrievalResult) SourceKey() string {
	return SourceKey(r.SourceURI, r.PageOrOffset)
}

// NewRetrievalResult projects a chunk into an unranked result with the given score.
func NewRetrievalResult(c *Chunk, score float32) RetrievalResult {
	return RetrievalResult{
		ChunkID:      c.ID,
		SourceURI:    c.SourceURI,
		PageOrOffset: c.PageOrOffset,
		Text:         c.Text,
		IngestedAt:   c.IngestedAt,
		Score:        score,
	}
}
