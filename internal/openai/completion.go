package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/kbqa/internal/service"
)

const segmentInstructions = `Respond with a JSON object of the form
{"segments":[{"text":"<one or more sentences of the answer>","sources":["<source id>", ...]}]}.
Each segment lists the ids of the sources that support it; use an empty list when none do.
The answer is the concatenation of the segment texts.`

var contentPolicyCodes = map[string]struct{}{
	"content_filter":               {},
	"content_policy_violation":     {},
	"ResponsibleAIPolicyViolation": {},
}

// ChatAPI is the part of the go-openai client used for generation.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CompletionBackend generates answers with the chat completions API and asks
// the model for per-segment source attribution.
type CompletionBackend struct {
	api   ChatAPI
	model string
}

// NewCompletionBackend creates a generation backend from cfg.
func NewCompletionBackend(cfg Config) *CompletionBackend {
	return NewCompletionBackendWithAPI(NewAPIClient(cfg), cfg.ChatModel)
}

// NewCompletionBackendWithAPI creates a generation backend over an existing client.
func NewCompletionBackendWithAPI(api ChatAPI, model string) *CompletionBackend {
	if model == "" {
		model = DefaultChatModel
	}
	return &CompletionBackend{api: api, model: model}
}

type segmentResponse struct {
	Segments []struct {
		Text    string   `json:"text"`
		Sources []string `json:"sources"`
	} `json:"segments"`
}

// Complete sends the prompt and returns the answer text with its attribution.
// Malformed JSON output is returned as plain text without attribution.
func (b *CompletionBackend) Complete(ctx context.Context, prompt service.Prompt, opts service.CompletionOptions) (*service.Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(prompt.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt.System + "\n\n" + segmentInstructions,
	})
	for _, m := range prompt.History {
		role := openai.ChatMessageRoleUser
		if m.Role == service.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.User,
	})

	resp, err := b.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, service.TransientError(errors.New("chat completion returned no choices"))
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, service.RejectedError(errors.New("completion stopped by content filter"))
	}

	return parseSegments(choice.Message.Content), nil
}

// parseSegments joins segment texts into the answer and records each
// segment's byte range. A space is inserted between segments that would
// otherwise run together; it belongs to the preceding segment.
func parseSegments(content string) *service.Completion {
	var parsed segmentResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || len(parsed.Segments) == 0 {
		return &service.Completion{Text: content}
	}

	var sb strings.Builder
	attribution := &service.Attribution{Segments: make([]service.AttributedSegment, 0, len(parsed.Segments))}
	for i, seg := range parsed.Segments {
		if seg.Text == "" {
			continue
		}
		start := sb.Len()
		sb.WriteString(seg.Text)
		if i < len(parsed.Segments)-1 && needsSeparator(seg.Text, parsed.Segments[i+1].Text) {
			sb.WriteByte(' ')
		}
		attribution.Segments = append(attribution.Segments, service.AttributedSegment{
			Start:     start,
			End:       sb.Len(),
			SourceIDs: seg.Sources,
		})
	}

	return &service.Completion{Text: sb.String(), Attribution: attribution}
}

func needsSeparator(prev, next string) bool {
	if prev == "" || next == "" {
		return false
	}
	last := []rune(prev)[len([]rune(prev))-1]
	first := []rune(next)[0]
	return !unicode.IsSpace(last) && !unicode.IsSpace(first)
}

// classifyError tags API errors for the orchestrator's retry policy.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if _, ok := contentPolicyCodes[fmt.Sprint(apiErr.Code)]; ok {
			return service.RejectedError(err)
		}
		if apiErr.InnerError != nil {
			if _, ok := contentPolicyCodes[apiErr.InnerError.Code]; ok {
				return service.RejectedError(err)
			}
		}
		if retryableStatus(apiErr.HTTPStatusCode) {
			return service.TransientError(err)
		}
		return err
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && retryableStatus(reqErr.HTTPStatusCode) {
		return service.TransientError(err)
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}
