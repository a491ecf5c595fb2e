// Package bedrock implements answer generation with the Amazon Bedrock Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/cloo-solutions/kbqa/internal/service"
)

// DefaultModelID is used when no model is configured.
const DefaultModelID = "anthropic.claude-3-haiku-20240307-v1:0"

var transientCodes = map[string]struct{}{
	"ThrottlingException":          {},
	"ModelTimeoutException":        {},
	"ServiceUnavailableException":  {},
	"InternalServerException":      {},
	"ModelNotReadyException":       {},
	"ServiceQuotaExceededException": {},
}

// ConverseAPI is the part of the Bedrock runtime client used for generation.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Config holds Bedrock settings.
type Config struct {
	Region  string
	ModelID string
}

// Backend generates answers with a Bedrock model. Bedrock returns no
// structured attribution, so citations come from the reconciler's fallback.
type Backend struct {
	api     ConverseAPI
	modelID string
}

// NewBackend loads AWS credentials from the default chain and creates a Backend.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewBackendWithAPI(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID), nil
}

// NewBackendWithAPI wraps an existing Converse client.
func NewBackendWithAPI(api ConverseAPI, modelID string) *Backend {
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &Backend{api: api, modelID: modelID}
}

// Complete sends the prompt through the Converse API.
func (b *Backend) Complete(ctx context.Context, prompt service.Prompt, opts service.CompletionOptions) (*service.Completion, error) {
	messages := make([]types.Message, 0, len(prompt.History)+1)
	for _, m := range prompt.History {
		role := types.ConversationRoleUser
		if m.Role == service.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		messages = append(messages, textMessage(role, m.Content))
	}
	messages = append(messages, textMessage(types.ConversationRoleUser, prompt.User))

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.modelID),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(opts.Temperature),
		},
	}
	if prompt.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: prompt.System}}
	}
	if opts.MaxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(opts.MaxTokens))
	}

	out, err := b.api.Converse(ctx, input)
	if err != nil {
		return nil, classifyError(err)
	}

	switch out.StopReason {
	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		return nil, service.RejectedError(fmt.Errorf("bedrock stopped generation: %s", out.StopReason))
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock returned no message output")
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return &service.Completion{Text: sb.String()}, nil
}

func textMessage(role types.ConversationRole, text string) types.Message {
	return types.Message{
		Role:    role,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
	}
}

// classifyError tags Bedrock errors for the orchestrator's retry policy.
func classifyError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if _, ok := transientCodes[apiErr.ErrorCode()]; ok {
		return service.TransientError(err)
	}
	// Policy blocks arrive as stop reasons, never as API errors.
	return err
}
