package domain

import (
	"fmt"
	"strings"
	"time"
)

// Chunk is a stored fragment of source text with its embedding.
// Chunks are immutable once appended to a store.
type Chunk struct {
	ID           string
	Text         string
	SourceURI    string
	PageOrOffset int
	Embedding    []float32
	IngestedAt   time.Time
}

// SourceKey identifies the source location of a chunk, used for de-duplication.
func (c Chunk) SourceKey() string {
	return SourceKey(c.SourceURI, c.PageOrOffset)
}

// SourceKey joins a source URI and page or offset into a single comparable key.
func SourceKey(sourceURI string, pageOrOffset int) string {
	return fmt.Sprintf("%s#%d", sourceURI, pageOrOffset)
}

// ValidateChunk validates a Chunk against the store's embedding dimensionality.
// A dimensions value <= 0 skips the dimension check.
func ValidateChunk(c *Chunk, dimensions int) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}

	if c.ID == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "chunk ID is required", ErrInvalidChunk)
	}

	if strings.TrimSpace(c.Text) == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "chunk text is required", ErrInvalidChunk)
	}

	if c.SourceURI == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "chunk source URI is required", ErrInvalidChunk)
	}

	if c.PageOrOffset < 0 {
		return NewDomainErrorWithCause(ErrCodeValidation, "chunk page or offset cannot be negative", ErrInvalidChunk)
	}

	if len(c.Embedding) == 0 {
		return NewDomainErrorWithCause(ErrCodeValidation, "chunk embedding is required", ErrInvalidChunk)
	}

	if dimensions > 0 && len(c.Embedding) != dimensions {
		return &DomainError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("chunk %s has %d dimensions, expected %d", c.ID, len(c.Embedding), dimensions),
			Err:     ErrWrongDimensions,
		}
	}

	return nil
}
