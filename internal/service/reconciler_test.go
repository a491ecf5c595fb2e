package service

import (
	"testing"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextOf(entries ...domain.ContextEntry) *domain.AssembledContext {
	return &domain.AssembledContext{Entries: entries, Budget: 1000}
}

func entry(id, text string) domain.ContextEntry {
	return domain.ContextEntry{ChunkID: id, SourceURI: "doc://" + id, Text: text}
}

func TestReconciler_StructuredSegments(t *testing.T) {
	r := NewReconciler(DefaultReconcilerConfig())
	used := contextOf(entry("c1", "refunds"), entry("c2", "shipping"))
	text := "Refunds take 30 days. Shipping is free. Thanks!"

	spans, violations := r.Reconcile(text, &Attribution{Segments: []AttributedSegment{
		{Start: 22, End: 40, SourceIDs: []string{"c2"}},
		{Start: 0, End: 22, SourceIDs: []string{"c1", "c1"}},
	}}, used)

	assert.Equal(t, 0, violations)
	require.Len(t, spans, 3)
	assert.Equal(t, text, domain.SpanText(spans))
	assert.Equal(t, []string{"c1"}, spans[0].ChunkIDs)
	assert.Equal(t, []string{"c2"}, spans[1].ChunkIDs)
	assert.False(t, spans[2].Grounded)
	assert.Equal(t, "Thanks!", spans[2].Text)
}

func TestReconciler_OutOfContextCitationIsDowngraded(t *testing.T) {
	r := NewReconciler(DefaultReconcilerConfig())
	used := contextOf(entry("c1", "refunds"))
	text := "Refunds take 30 days."

	spans, violations := r.Reconcile(text, &Attribution{Segments: []AttributedSegment{
		{Start: 0, End: len(text), SourceIDs: []string{"ghost"}},
	}}, used)

	assert.Equal(t, 1, violations)
	require.Len(t, spans, 1)
	assert.False(t, spans[0].Grounded)
	assert.Empty(t, spans[0].ChunkIDs)
	assert.Equal(t, text, domain.SpanText(spans))
}

func TestReconciler_ClipsOverlapsAndOutOfRange(t *testing.T) {
	r := NewReconciler(DefaultReconcilerConfig())
	used := contextOf(entry("c1", "x"), entry("c2", "y"))
	text := "abcdefghij"

	spans, _ := r.Reconcile(text, &Attribution{Segments: []AttributedSegment{
		{Start: 2, End: 6, SourceIDs: []string{"c1"}},
		{Start: 4, End: 50, SourceIDs: []string{"c2"}},
		{Start: -3, End: 1, SourceIDs: []string{"c2"}},
		{Start: 8, End: 3, SourceIDs: []string{"c1"}},
	}}, used)

	assert.Equal(t, text, domain.SpanText(spans))
	for _, s := range spans {
		assert.Equal(t, len(s.ChunkIDs) > 0, s.Grounded)
		assert.NotEmpty(t, s.Text)
	}
}

func TestReconciler_MultibyteOffsetsStayOnRuneBoundaries(t *testing.T) {
	r := NewReconciler(DefaultReconcilerConfig())
	used := contextOf(entry("c1", "x"))
	text := "Rückerstattung möglich."

	spans, _ := r.Reconcile(text, &Attribution{Segments: []AttributedSegment{
		{Start: 0, End: 2, SourceIDs: []string{"c1"}},
	}}, used)
	assert.Equal(t, text, domain.SpanText(spans))
	assert.Equal(t, "Rü", spans[0].Text)
}

func TestReconciler_SentenceFallback(t *testing.T) {
	r := NewReconciler(DefaultReconcilerConfig())
	used := contextOf(
		entry("refund", "Customers may request a refund within 30 days of purchase."),
		entry("ship", "Standard shipping takes five business days."),
	)
	text := "You can request a refund within 30 days.  Shipping takes five business days.\nI hope that helps!"

	spans, violations := r.Reconcile(text, nil, used)

	assert.Equal(t, 0, violations)
	assert.Equal(t, text, domain.SpanText(spans))
	require.Len(t, spans, 3)
	assert.Equal(t, []string{"refund"}, spans[0].ChunkIDs)
	assert.Equal(t, []string{"ship"}, spans[1].ChunkIDs)
	assert.False(t, spans[2].Grounded)
}

func TestReconciler_EmptySegmentsFallBackToSentences(t *testing.T) {
	r := NewReconciler(DefaultReconcilerConfig())
	used := contextOf(entry("refund", "refund within 30 days"))

	spans, _ := r.Reconcile("Refund within 30 days.", &Attribution{}, used)
	require.Len(t, spans, 1)
	assert.True(t, spans[0].Grounded)
}

func TestReconciler_EmptyText(t *testing.T) {
	r := NewReconciler(DefaultReconcilerConfig())
	spans, violations := r.Reconcile("", nil, contextOf())
	assert.Empty(t, spans)
	assert.Equal(t, 0, violations)
}

func TestSplitSentences_Reconstructs(t *testing.T) {
	inputs := []string{
		"One. Two! Three?",
		"Version 3.5 is out. \"Quoted.\" Next",
		"line one\nline two\n\n",
		"   leading space. trailing   ",
		"no punctuation at all",
		"Ends with ellipsis...",
	}
	for _, in := range inputs {
		parts := splitSentences(in)
		joined := ""
		for _, p := range parts {
			assert.NotEmpty(t, p)
			joined += p
		}
		assert.Equal(t, in, joined)
	}

	assert.Equal(t, []string{"Version 3.5 is out. ", "\"Quoted.\" ", "Next"}, splitSentences("Version 3.5 is out. \"Quoted.\" Next"))
}

func TestReconciler_ReconstructionProperty(t *testing.T) {
	r := NewReconciler(ReconcilerConfig{GroundingThreshold: 0.3, MaxCitationsPerSpan: 2})
	used := contextOf(entry("a", "alpha beta gamma"), entry("b", "delta epsilon"))
	texts := []string{
		"alpha beta. delta epsilon! unrelated words here?",
		"\n\n",
		"x",
		"alpha beta… gamma. ",
	}
	for _, text := range texts {
		spans, _ := r.Reconcile(text, nil, used)
		assert.Equal(t, text, domain.SpanText(spans))
		for _, s := range spans {
			for _, id := range s.ChunkIDs {
				assert.True(t, used.Contains(id))
			}
		}
	}
}
