package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/pagination"
)

// ChunkRepository is the PostgreSQL chunk store. Rows are only ever inserted.
type ChunkRepository struct {
	db         dbtx
	pool       txBeginner
	dimensions int
}

func NewChunkRepository(pool *pgxpool.Pool, dimensions int) *ChunkRepository {
	return &ChunkRepository{db: pool, pool: pool, dimensions: dimensions}
}

// Dimensions returns the embedding size accepted by the store.
func (r *ChunkRepository) Dimensions() int {
	return r.dimensions
}

// Append inserts all chunks in one transaction; an existing ID aborts the batch.
func (r *ChunkRepository) Append(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if err := domain.ValidateChunk(&chunks[i], r.dimensions); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, c := range chunks {
			ingestedAt := c.IngestedAt
			if ingestedAt.IsZero() {
				ingestedAt = now
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO chunks (id, text, source_uri, page_or_offset, embedding, ingested_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				c.ID,
				c.Text,
				c.SourceURI,
				c.PageOrOffset,
				pgvector.NewVector(c.Embedding),
				ingestedAt,
			)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
					return domain.NewDomainErrorWithCause(domain.ErrCodeAlreadyExists, fmt.Sprintf("chunk %s already exists", c.ID), domain.ErrChunkAlreadyExists)
				}
				return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// Get returns a chunk by ID.
func (r *ChunkRepository) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	var (
		c   domain.Chunk
		vec pgvector.Vector
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, text, source_uri, page_or_offset, embedding, ingested_at
		 FROM chunks WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Text, &c.SourceURI, &c.PageOrOffset, &vec, &c.IngestedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	c.Embedding = vec.Slice()
	return &c, nil
}

// Count returns the number of stored chunks.
func (r *ChunkRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// List returns chunks in ingestion order, starting after the cursor's chunk.
func (r *ChunkRepository) List(ctx context.Context, after *pagination.Cursor, limit int) ([]*domain.Chunk, error) {
	if limit <= 0 {
		return []*domain.Chunk{}, nil
	}

	var afterSeq int64
	if after != nil {
		err := r.db.QueryRow(ctx, `SELECT seq FROM chunks WHERE id = $1`, after.LastID).Scan(&afterSeq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, pagination.ErrInvalidCursor
			}
			return nil, err
		}
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, text, source_uri, page_or_offset, ingested_at
		 FROM chunks WHERE seq > $1
		 ORDER BY seq
		 LIMIT $2`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Chunk, 0, limit)
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.Text, &c.SourceURI, &c.PageOrOffset, &c.IngestedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Search ranks chunks by cosine similarity to embedding, newest first on ties.
func (r *ChunkRepository) Search(ctx context.Context, embedding []float32, filters domain.RetrievalFilters, limit int) ([]domain.RetrievalResult, error) {
	if len(embedding) != r.dimensions {
		return nil, domain.NewDomainErrorWithCause(
			domain.ErrCodeValidation,
			fmt.Sprintf("query embedding has %d dimensions, expected %d", len(embedding), r.dimensions),
			domain.ErrWrongDimensions,
		)
	}
	if limit <= 0 {
		return []domain.RetrievalResult{}, nil
	}

	var ingestedAfter *time.Time
	if !filters.IngestedAfter.IsZero() {
		ingestedAfter = &filters.IngestedAfter
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, text, source_uri, page_or_offset, ingested_at, 1 - (embedding <=> $1) AS score
		 FROM chunks
		 WHERE ($2 = '' OR starts_with(source_uri, $2))
		   AND ($3::timestamptz IS NULL OR ingested_at > $3)
		 ORDER BY embedding <=> $1, ingested_at DESC, id
		 LIMIT $4`,
		pgvector.NewVector(embedding),
		filters.SourceURIPrefix,
		ingestedAfter,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.RetrievalResult, 0, limit)
	for rows.Next() {
		var (
			res   domain.RetrievalResult
			score float64
		)
		if err := rows.Scan(&res.ChunkID, &res.Text, &res.SourceURI, &res.PageOrOffset, &res.IngestedAt, &score); err != nil {
			return nil, err
		}
		res.Score = float32(score)
		results = append(results, res)
	}
	return results, rows.Err()
}
