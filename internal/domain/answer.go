package domain

import (
	"fmt"
	"strings"
)

// GeneratedSpan is a fragment of an answer together with the chunks that ground it.
// A span with no chunks is ungrounded and must still be kept.
type GeneratedSpan struct {
	Text     string   `json:"text"`
	ChunkIDs []string `json:"chunk_ids"`
	Grounded bool     `json:"grounded"`
}

// Citation points at a chunk that grounds at least one span of an answer.
type Citation struct {
	ChunkID      string `json:"chunk_id"`
	SourceURI    string `json:"source_uri"`
	PageOrOffset int    `json:"page_or_offset"`
}

// Answer is the reconciled output of one conversation turn.
type Answer struct {
	SessionID  string          `json:"session_id"`
	TurnID     string          `json:"turn_id"`
	Text       string          `json:"text"`
	Spans      []GeneratedSpan `json:"spans"`
	Citations  []Citation      `json:"citations"`
	Attempts   int             `json:"attempts"`
	Violations int             `json:"violations"`
	States     []TurnState     `json:"states,omitempty"`
}

// SpanText concatenates span texts in order.
func SpanText(spans []GeneratedSpan) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}

// BuildCitations collects the distinct grounding chunks of spans in first-use order.
func BuildCitations(spans []GeneratedSpan, used *AssembledContext) []Citation {
	seen := make(map[string]struct{})
	citations := make([]Citation, 0)
	for _, s := range spans {
		for _, id := range s.ChunkIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			entry, ok := used.Entry(id)
			if !ok {
				continue
			}
			seen[id] = struct{}{}
			citations = append(citations, Citation{
				ChunkID:      id,
				SourceURI:    entry.SourceURI,
				PageOrOffset: entry.PageOrOffset,
			})
		}
	}
	return citations
}

// Validate checks that spans reconstruct the text and only cite chunks from used.
func (a *Answer) Validate(used *AssembledContext) error {
	if got := SpanText(a.Spans); got != a.Text {
		return fmt.Errorf("spans do not reconstruct answer text: got %d bytes, want %d", len(got), len(a.Text))
	}
	for i, s := range a.Spans {
		if s.Grounded != (len(s.ChunkIDs) > 0) {
			return fmt.Errorf("span %d grounded flag does not match its chunks", i)
		}
		for _, id := range s.ChunkIDs {
			if !used.Contains(id) {
				return NewDomainErrorWithCause(ErrCodeConsistency, fmt.Sprintf("span %d cites %s", i, id), ErrConsistencyViolation)
			}
		}
	}
	return nil
}
