package service

import (
	"fmt"
	"sort"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

// DefaultMinViableTokens is the smallest budget that can hold a useful context.
const DefaultMinViableTokens = 32

// AssemblerConfig controls context assembly.
type AssemblerConfig struct {
	MinViableTokens int
}

// Assembler turns ranked retrieval results into a budget-bounded context.
type Assembler struct {
	tokenizer Tokenizer
	cfg       AssemblerConfig
}

// NewAssembler creates an Assembler. A nil tokenizer defaults to WordTokenizer.
func NewAssembler(tokenizer Tokenizer, cfg AssemblerConfig) *Assembler {
	if tokenizer == nil {
		tokenizer = WordTokenizer{}
	}
	if cfg.MinViableTokens <= 0 {
		cfg.MinViableTokens = DefaultMinViableTokens
	}
	return &Assembler{tokenizer: tokenizer, cfg: cfg}
}

// Assemble includes results in rank order until the next would overflow
// tokenBudget. Only a leading chunk that alone exceeds the budget is
// truncated. The output depends only on the inputs.
func (a *Assembler) Assemble(results []domain.RetrievalResult, tokenBudget int) (*domain.AssembledContext, error) {
	if tokenBudget < a.cfg.MinViableTokens {
		return nil, domain.NewDomainErrorWithCause(
			domain.ErrCodeContextOverflow,
			fmt.Sprintf("token budget %d is below minimum %d", tokenBudget, a.cfg.MinViableTokens),
			domain.ErrContextOverflow,
		)
	}

	ctx := &domain.AssembledContext{
		Entries: make([]domain.ContextEntry, 0, len(results)),
		Budget:  tokenBudget,
	}

	for _, r := range dedupeResults(results) {
		tokens := a.tokenizer.Count(r.Text)
		if ctx.TotalTokens+tokens <= tokenBudget {
			ctx.Entries = append(ctx.Entries, newContextEntry(r, r.Text, tokens, false))
			ctx.TotalTokens += tokens
			continue
		}
		if len(ctx.Entries) == 0 {
			text := a.tokenizer.Truncate(r.Text, tokenBudget)
			tokens = a.tokenizer.Count(text)
			ctx.Entries = append(ctx.Entries, newContextEntry(r, text, tokens, true))
			ctx.TotalTokens += tokens
		}
		break
	}

	return ctx, nil
}

func newContextEntry(r domain.RetrievalResult, text string, tokens int, truncated bool) domain.ContextEntry {
	return domain.ContextEntry{
		ChunkID:      r.ChunkID,
		SourceURI:    r.SourceURI,
		PageOrOffset: r.PageOrOffset,
		Score:        r.Score,
		Rank:         r.Rank,
		Text:         text,
		Tokens:       tokens,
		Truncated:    truncated,
	}
}

// dedupeResults keeps one result per source location, the higher scored one
// (better rank on equal score), and returns them in rank order.
func dedupeResults(results []domain.RetrievalResult) []domain.RetrievalResult {
	best := make(map[string]int, len(results))
	out := make([]domain.RetrievalResult, 0, len(results))
	for _, r := range results {
		key := r.SourceKey()
		i, ok := best[key]
		if !ok {
			best[key] = len(out)
			out = append(out, r)
			continue
		}
		if better(r, out[i]) {
			out[i] = r
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return better(out[i], out[j])
	})
	return out
}

func better(a, b domain.RetrievalResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ChunkID < b.ChunkID
}
