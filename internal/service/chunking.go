package service

import (
	"strings"
	"unicode"
)

// ChunkConfig controls how documents are split before embedding. Sizes are in runes.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	Overlap   int
	// MaxChunks rejects documents that need more chunks. Zero means no limit.
	MaxChunks int
}

// DefaultChunkConfig returns the splitter settings used by ingestion.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1200,
		MinChars: 400,
		Overlap:  200,
	}
}

// textChunk is one window of a document and the rune offset where it starts.
type textChunk struct {
	Text   string
	Offset int
}

// chunkText splits text into windows of at most MaxChars runes. A window ends
// at the last paragraph break past MinChars, else the last sentence end, else
// the last whitespace. Consecutive windows share about Overlap runes, starting
// on a word boundary. Offsets index the untrimmed input.
func chunkText(text string, cfg ChunkConfig) []textChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	runes := []rune(text)
	n := len(runes)

	var chunks []textChunk
	for start := skipSpace(runes, 0); start < n; {
		end := min(start+cfg.MaxChars, n)
		if end < n {
			floor := start + cfg.MinChars
			if floor >= end {
				floor = start
			}
			end = cutPoint(runes, floor, end)
		}

		if body := strings.TrimRightFunc(string(runes[start:end]), unicode.IsSpace); body != "" {
			chunks = append(chunks, textChunk{Text: body, Offset: start})
		}
		if end >= n {
			break
		}

		next := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			next = wordStart(runes, end-cfg.Overlap, end)
		}
		start = skipSpace(runes, next)
	}

	return chunks
}

type boundary func(runes []rune, i int) bool

// Checked in order; the first kind found in range wins.
var boundaries = []boundary{
	func(r []rune, i int) bool { return i >= 2 && r[i-1] == '\n' && r[i-2] == '\n' },
	func(r []rune, i int) bool { return i >= 2 && unicode.IsSpace(r[i-1]) && strings.ContainsRune(".!?", r[i-2]) },
	func(r []rune, i int) bool { return i >= 1 && unicode.IsSpace(r[i-1]) },
}

// cutPoint returns the best index in (floor, end] to end a window, or end.
func cutPoint(runes []rune, floor, end int) int {
	for _, at := range boundaries {
		for i := end; i > floor; i-- {
			if at(runes, i) {
				return i
			}
		}
	}
	return end
}

// wordStart moves i forward to the start of the next word, never past limit.
func wordStart(runes []rune, i, limit int) int {
	for i > 0 && i < limit && !unicode.IsSpace(runes[i-1]) {
		i++
	}
	return i
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}
