package service

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

const defaultSystemPrompt = `You answer questions using only the numbered sources provided.
Cite the sources that support each statement by their id.
If the sources do not contain the answer, say that you do not know.`

// Role is the speaker of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PromptMessage is one prior exchange message replayed to the backend.
type PromptMessage struct {
	Role    Role
	Content string
}

// Prompt is a backend-neutral generation request.
type Prompt struct {
	System   string
	History  []PromptMessage
	User     string
	ChunkIDs []string
}

// PromptBuilder renders the context, history and question into a Prompt.
type PromptBuilder struct {
	System          string
	MaxPromptTokens int
	Tokenizer       Tokenizer
}

// Build renders a prompt, dropping the oldest history turns until the prompt
// fits MaxPromptTokens. The context block and question are never dropped.
func (b PromptBuilder) Build(query domain.Query, used *domain.AssembledContext) Prompt {
	tokenizer := b.Tokenizer
	if tokenizer == nil {
		tokenizer = WordTokenizer{}
	}
	system := b.System
	if system == "" {
		system = defaultSystemPrompt
	}

	p := Prompt{
		System:   system,
		User:     renderUserMessage(query.Text, used),
		ChunkIDs: used.ChunkIDs(),
	}

	history := query.History
	for {
		p.History = renderHistory(history)
		if b.MaxPromptTokens <= 0 || len(history) == 0 || promptTokens(tokenizer, p) <= b.MaxPromptTokens {
			return p
		}
		history = history[1:]
	}
}

func renderUserMessage(question string, used *domain.AssembledContext) string {
	var sb strings.Builder
	sb.WriteString("Sources:\n")
	if used == nil || len(used.Entries) == 0 {
		sb.WriteString("(none)\n")
	} else {
		for i, e := range used.Entries {
			fmt.Fprintf(&sb, "[%d] id=%s source=%s#%d\n", i+1, e.ChunkID, e.SourceURI, e.PageOrOffset)
			sb.WriteString(e.Text)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(question))
	return sb.String()
}

func renderHistory(turns []domain.Turn) []PromptMessage {
	if len(turns) == 0 {
		return nil
	}
	msgs := make([]PromptMessage, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs,
			PromptMessage{Role: RoleUser, Content: t.Query},
			PromptMessage{Role: RoleAssistant, Content: t.Answer.Text},
		)
	}
	return msgs
}

func promptTokens(tokenizer Tokenizer, p Prompt) int {
	n := tokenizer.Count(p.System) + tokenizer.Count(p.User)
	for _, m := range p.History {
		n += tokenizer.Count(m.Content)
	}
	return n
}
