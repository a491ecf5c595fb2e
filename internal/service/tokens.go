package service

import (
	"strings"
	"unicode"
)

// Tokenizer measures and truncates text in model tokens.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// WordTokenizer approximates tokens as whitespace-separated words.
type WordTokenizer struct{}

// Count returns the number of words in text.
func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

// Truncate keeps the first maxTokens words of text, preserving the original
// spacing between them.
func (WordTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	words := 0
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				inWord = false
				if words == maxTokens {
					return text[:i]
				}
			}
			continue
		}
		if !inWord {
			inWord = true
			words++
		}
	}
	return strings.TrimRightFunc(text, unicode.IsSpace)
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "for": {}, "with": {}, "by": {},
	"in": {}, "on": {}, "at": {}, "from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "it": {}, "this": {}, "that": {}, "these": {}, "those": {}, "we": {}, "our": {}, "you": {},
	"your": {}, "i": {}, "me": {}, "my": {}, "us": {}, "them": {}, "they": {}, "their": {}, "do": {},
	"does": {}, "did": {}, "what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "which": {}, "can": {},
	"could": {}, "should": {}, "would": {}, "may": {}, "might": {}, "will": {}, "shall": {}, "not": {},
	"if": {}, "so": {}, "than": {}, "then": {}, "there": {}, "has": {}, "have": {}, "had": {}, "its": {},
}

// contentTerms returns the lowercased non-stopword terms of text.
func contentTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, token := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		clean := strings.ToLower(token)
		if len([]rune(clean)) < 2 {
			continue
		}
		if _, ok := stopwords[clean]; ok {
			continue
		}
		terms[clean] = struct{}{}
	}
	return terms
}
