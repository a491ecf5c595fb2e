package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/telemetry"
)

const pageBreak = "\f"

var chunkNamespace = uuid.MustParse("6f1b3c2e-8d7a-4c1e-9b5f-2a4d6e8f0c13")

// DocumentSource lists and reads raw documents for ingestion.
type DocumentSource interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	ReadObject(ctx context.Context, key string) ([]byte, error)
	URI(key string) string
}

// DocumentInput is one document to ingest.
type DocumentInput struct {
	SourceURI string
	Text      string
}

// IngestResult reports the chunks produced for one document.
type IngestResult struct {
	SourceURI string   `json:"source_uri"`
	ChunkIDs  []string `json:"chunk_ids"`
	Skipped   int      `json:"skipped"`
}

// BucketReport summarizes an ingestion run over a document source.
type BucketReport struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped,omitempty"`
}

// IngestConfig controls ingestion.
type IngestConfig struct {
	Chunking    ChunkConfig
	Concurrency int
	// BatchSize is the number of chunks per embedding call when the client
	// supports batching.
	BatchSize int
	// Extensions limits which object keys are read from a document source.
	Extensions []string
}

// DefaultIngestConfig returns the default ingestion settings.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Chunking:    DefaultChunkConfig(),
		Concurrency: 4,
		BatchSize:   32,
		Extensions:  []string{".txt", ".md", ".markdown", ".pdf"},
	}
}

// IngestService chunks documents, embeds the chunks and appends them to the store.
type IngestService struct {
	client  EmbeddingClient
	store   ChunkStore
	cfg     IngestConfig
	metrics Metrics
	now     func() time.Time
}

// NewIngestService creates a new IngestService instance
func NewIngestService(client EmbeddingClient, store ChunkStore, cfg IngestConfig, metrics Metrics) *IngestService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &IngestService{
		client:  client,
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
	}
}

type pendingChunk struct {
	id           string
	text         string
	pageOrOffset int
}

// IngestDocument chunks and embeds one document. Every chunk is addressed by
// its rune offset in the document; form feeds split pages and chunks never
// cross them. Chunk IDs derive from source and content, so chunks that are
// already stored are skipped. A document needing more than Chunking.MaxChunks
// chunks is rejected whole.
func (s *IngestService) IngestDocument(ctx context.Context, doc DocumentInput) (*IngestResult, error) {
	if strings.TrimSpace(doc.SourceURI) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "source URI is required")
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "document text is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestService.IngestDocument", telemetry.SpanAttributes{
		SourceURI: doc.SourceURI,
		Operation: "ingest",
	})
	defer span.End()

	pending := splitDocument(doc, s.cfg.Chunking)
	if limit := s.cfg.Chunking.MaxChunks; limit > 0 && len(pending) > limit {
		err := fmt.Errorf("%w: %d chunks, limit is %d", domain.ErrDocumentTooLarge, len(pending), limit)
		span.SetError(err)
		return nil, err
	}
	result := &IngestResult{SourceURI: doc.SourceURI, ChunkIDs: make([]string, 0, len(pending))}

	fresh := pending[:0:0]
	for _, p := range pending {
		_, err := s.store.Get(ctx, p.id)
		switch {
		case err == nil:
			result.Skipped++
			continue
		case !errors.Is(err, domain.ErrChunkNotFound):
			span.SetError(err)
			return nil, fmt.Errorf("failed to check chunk %s: %w", p.id, err)
		}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return result, nil
	}

	texts := make([]string, len(fresh))
	for i, p := range fresh {
		texts[i] = p.text
	}
	embeddings, err := s.embed(ctx, texts)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	ingestedAt := s.now().UTC()
	chunks := make([]domain.Chunk, len(fresh))
	for i, p := range fresh {
		chunks[i] = domain.Chunk{
			ID:           p.id,
			Text:         p.text,
			SourceURI:    doc.SourceURI,
			PageOrOffset: p.pageOrOffset,
			Embedding:    embeddings[i],
			IngestedAt:   ingestedAt,
		}
		result.ChunkIDs = append(result.ChunkIDs, p.id)
	}

	if err := s.store.Append(ctx, chunks); err != nil {
		span.SetError(err)
		return nil, err
	}
	s.metrics.ChunksIngested(len(chunks))
	return result, nil
}

// IngestSource ingests every text or PDF object under prefix. Objects that cannot be
// used as text are reported as skipped; a failing store stops the run.
func (s *IngestService) IngestSource(ctx context.Context, source DocumentSource, prefix string) (*BucketReport, error) {
	keys, err := source.ListKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	report := &BucketReport{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !s.acceptsKey(key) {
			report.Skipped = append(report.Skipped, key)
			continue
		}

		body, err := source.ReadObject(ctx, key)
		if errors.Is(err, domain.ErrDocumentTooLarge) || errors.Is(err, domain.ErrObjectNotFound) {
			log.Printf("ingest: skipping %s: %v", key, err)
			report.Skipped = append(report.Skipped, key)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to read %s: %w", key, err)
		}
		text, err := extractText(key, body)
		if err != nil {
			log.Printf("ingest: skipping %s: %v", key, err)
			report.Skipped = append(report.Skipped, key)
			continue
		}
		if strings.TrimSpace(strings.ReplaceAll(text, pageBreak, "")) == "" {
			report.Skipped = append(report.Skipped, key)
			continue
		}

		res, err := s.IngestDocument(ctx, DocumentInput{SourceURI: source.URI(key), Text: text})
		if errors.Is(err, domain.ErrDocumentTooLarge) {
			log.Printf("ingest: skipping %s: %v", key, err)
			report.Skipped = append(report.Skipped, key)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to ingest %s: %w", key, err)
		}
		report.Documents++
		report.Chunks += len(res.ChunkIDs)
	}
	return report, nil
}

func (s *IngestService) acceptsKey(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	if len(s.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(key))
	for _, allowed := range s.cfg.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// embed runs up to Concurrency embedding calls at once, batching texts when
// the client supports it.
func (s *IngestService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	batcher, batched := s.client.(BatchEmbedder)
	step := 1
	if batched {
		step = s.cfg.BatchSize
	}
	for start := 0; start < len(texts); start += step {
		end := min(start+step, len(texts))
		g.Go(func() error {
			if !batched {
				emb, err := s.client.GenerateEmbedding(gctx, texts[start])
				if err != nil {
					return fmt.Errorf("failed to generate chunk embedding: %w", err)
				}
				out[start] = emb
				return nil
			}
			embs, err := batcher.GenerateEmbeddings(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("failed to generate chunk embeddings: %w", err)
			}
			if len(embs) != end-start {
				return fmt.Errorf("embedding client returned %d vectors for %d chunks", len(embs), end-start)
			}
			copy(out[start:end], embs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// splitDocument chunks each page on its own so no chunk spans a page break.
// Locations are rune offsets into the whole document, page breaks included.
func splitDocument(doc DocumentInput, cfg ChunkConfig) []pendingChunk {
	pages := strings.Split(doc.Text, pageBreak)
	paged := len(pages) > 1

	var out []pendingChunk
	base := 0
	for i, page := range pages {
		pageNum := 0
		if paged {
			pageNum = i + 1
		}
		for _, c := range chunkText(page, cfg) {
			loc := base + c.Offset
			out = append(out, pendingChunk{
				id:           chunkID(doc.SourceURI, pageNum, loc, c.Text),
				text:         c.Text,
				pageOrOffset: loc,
			})
		}
		base += utf8.RuneCountInString(page) + utf8.RuneCountInString(pageBreak)
	}
	return out
}

func chunkID(sourceURI string, page, offset int, text string) string {
	name := fmt.Sprintf("%s\x00%d\x00%d\x00%s", sourceURI, page, offset, text)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
