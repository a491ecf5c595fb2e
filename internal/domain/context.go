package domain

// ContextEntry is one chunk included in an assembled prompt context.
type ContextEntry struct {
	ChunkID      string  `json:"chunk_id"`
	SourceURI    string  `json:"source_uri"`
	PageOrOffset int     `json:"page_or_offset"`
	Score        float32 `json:"score"`
	Rank         int     `json:"rank"`
	Text         string  `json:"text"`
	Tokens       int     `json:"tokens"`
	Truncated    bool    `json:"truncated,omitempty"`
}

// AssembledContext is the ordered, budget-bounded context handed to generation.
type AssembledContext struct {
	Entries     []ContextEntry `json:"entries"`
	TotalTokens int            `json:"total_tokens"`
	Budget      int            `json:"budget"`
}

// Contains reports whether the chunk was part of this context.
func (c *AssembledContext) Contains(chunkID string) bool {
	_, ok := c.Entry(chunkID)
	return ok
}

// Entry returns the context entry for a chunk.
func (c *AssembledContext) Entry(chunkID string) (ContextEntry, bool) {
	if c == nil {
		return ContextEntry{}, false
	}
	for _, e := range c.Entries {
		if e.ChunkID == chunkID {
			return e, true
		}
	}
	return ContextEntry{}, false
}

// ChunkIDs returns the chunk IDs in context order.
func (c *AssembledContext) ChunkIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		ids[i] = e.ChunkID
	}
	return ids
}
