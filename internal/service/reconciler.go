package service

import (
	"log"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

// ReconcilerConfig controls the heuristic grounding fallback.
type ReconcilerConfig struct {
	// GroundingThreshold is the share of a sentence's content terms that must
	// appear in a chunk for the chunk to ground it.
	GroundingThreshold float64
	MaxCitationsPerSpan int
}

// DefaultReconcilerConfig returns the default reconciliation settings.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		GroundingThreshold:  0.5,
		MaxCitationsPerSpan: 3,
	}
}

// Reconciler maps generated text back to the context chunks that ground it.
type Reconciler struct {
	cfg ReconcilerConfig
}

// NewReconciler creates a Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.GroundingThreshold <= 0 {
		cfg.GroundingThreshold = DefaultReconcilerConfig().GroundingThreshold
	}
	return &Reconciler{cfg: cfg}
}

// Reconcile splits rawText into spans whose texts concatenate back to rawText.
// Structured attribution is used when present; otherwise sentences are matched
// lexically against the context. Source IDs outside used are dropped and
// counted as violations.
func (r *Reconciler) Reconcile(rawText string, attribution *Attribution, used *domain.AssembledContext) ([]domain.GeneratedSpan, int) {
	if rawText == "" {
		return []domain.GeneratedSpan{}, 0
	}
	if attribution != nil && len(attribution.Segments) > 0 {
		return r.fromSegments(rawText, attribution.Segments, used)
	}
	return r.fromSentences(rawText, used), 0
}

func (r *Reconciler) fromSegments(text string, segments []AttributedSegment, used *domain.AssembledContext) ([]domain.GeneratedSpan, int) {
	ordered := make([]AttributedSegment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	spans := make([]domain.GeneratedSpan, 0, len(ordered)*2+1)
	violations := 0
	cursor := 0
	for _, seg := range ordered {
		start := runeBoundary(text, max(seg.Start, cursor))
		end := runeBoundary(text, min(seg.End, len(text)))
		if end <= start {
			continue
		}
		if start > cursor {
			spans = append(spans, ungrounded(text[cursor:start]))
		}

		ids, bad := r.resolve(seg.SourceIDs, used)
		violations += bad
		spans = append(spans, newSpan(text[start:end], ids))
		cursor = end
	}
	if cursor < len(text) {
		spans = append(spans, ungrounded(text[cursor:]))
	}
	return spans, violations
}

// resolve keeps source IDs present in used, in order and without duplicates.
func (r *Reconciler) resolve(sourceIDs []string, used *domain.AssembledContext) ([]string, int) {
	var (
		ids        []string
		violations int
	)
	seen := make(map[string]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if !used.Contains(id) {
			violations++
			log.Printf("reconciler: dropping citation of chunk %q outside assembled context: %v", id, domain.ErrConsistencyViolation)
			continue
		}
		if r.cfg.MaxCitationsPerSpan > 0 && len(ids) >= r.cfg.MaxCitationsPerSpan {
			continue
		}
		ids = append(ids, id)
	}
	return ids, violations
}

func (r *Reconciler) fromSentences(text string, used *domain.AssembledContext) []domain.GeneratedSpan {
	type chunkTerms struct {
		id    string
		terms map[string]struct{}
	}
	var chunks []chunkTerms
	if used != nil {
		chunks = make([]chunkTerms, 0, len(used.Entries))
		for _, e := range used.Entries {
			chunks = append(chunks, chunkTerms{id: e.ChunkID, terms: contentTerms(e.Text)})
		}
	}

	type match struct {
		id    string
		score float64
		order int
	}

	sentences := splitSentences(text)
	spans := make([]domain.GeneratedSpan, 0, len(sentences))
	for _, sentence := range sentences {
		terms := contentTerms(sentence)
		if len(terms) == 0 {
			spans = append(spans, ungrounded(sentence))
			continue
		}

		var matches []match
		for i, c := range chunks {
			shared := 0
			for t := range terms {
				if _, ok := c.terms[t]; ok {
					shared++
				}
			}
			score := float64(shared) / float64(len(terms))
			if score >= r.cfg.GroundingThreshold {
				matches = append(matches, match{id: c.id, score: score, order: i})
			}
		}
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].score != matches[j].score {
				return matches[i].score > matches[j].score
			}
			return matches[i].order < matches[j].order
		})
		if r.cfg.MaxCitationsPerSpan > 0 && len(matches) > r.cfg.MaxCitationsPerSpan {
			matches = matches[:r.cfg.MaxCitationsPerSpan]
		}

		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.id)
		}
		spans = append(spans, newSpan(sentence, ids))
	}
	return spans
}

// splitSentences cuts text after sentence punctuation or a line break. Trailing
// whitespace stays with the sentence it follows, so the parts concatenate back
// to text.
func splitSentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size

		boundary := false
		switch {
		case r == '\n':
			boundary = true
		case r == '.' || r == '!' || r == '?':
			j := i
			for j < len(text) {
				c, n := utf8.DecodeRuneInString(text[j:])
				if c != '"' && c != '\'' && c != ')' && c != ']' && c != '”' {
					break
				}
				j += n
			}
			if j == len(text) {
				i = j
				boundary = true
			} else if c, _ := utf8.DecodeRuneInString(text[j:]); unicode.IsSpace(c) {
				i = j
				boundary = true
			}
		}
		if !boundary {
			continue
		}
		for i < len(text) {
			c, n := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(c) {
				break
			}
			i += n
		}
		out = append(out, text[start:i])
		start = i
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func runeBoundary(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

func newSpan(text string, ids []string) domain.GeneratedSpan {
	if len(ids) == 0 {
		return ungrounded(text)
	}
	return domain.GeneratedSpan{Text: text, ChunkIDs: ids, Grounded: true}
}

func ungrounded(text string) domain.GeneratedSpan {
	return domain.GeneratedSpan{Text: text, ChunkIDs: []string{}, Grounded: false}
}
