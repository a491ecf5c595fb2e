package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

const (
	DefaultEmbeddingModel      = openai.SmallEmbedding3
	DefaultEmbeddingDimensions = 1536
	DefaultChatModel           = openai.GPT4oMini

	// MaxBatchInputs caps the inputs sent in one embeddings request.
	MaxBatchInputs = 256
)

var ErrEmptyText = errors.New("text cannot be empty")

// Config selects the endpoint and models for both embeddings and chat.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for an OpenAI-compatible gateway.
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
}

// NewAPIClient builds the underlying go-openai client for cfg.
func NewAPIClient(cfg Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// EmbeddingsAPI is the part of the go-openai client used for embeddings.
type EmbeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client turns text into fixed-size embeddings.
type Client struct {
	api        EmbeddingsAPI
	model      openai.EmbeddingModel
	dimensions int
}

// NewClientWithConfig creates an embedding client from cfg.
func NewClientWithConfig(cfg Config) *Client {
	return NewClientWithAPI(NewAPIClient(cfg), cfg.EmbeddingModel, cfg.EmbeddingDimensions)
}

// NewClientWithAPI wraps an existing API client. Zero values pick the defaults.
func NewClientWithAPI(api EmbeddingsAPI, model openai.EmbeddingModel, dimensions int) *Client {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{api: api, model: model, dimensions: dimensions}
}

// Dimensions returns the embedding size this client produces.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding embeds a single text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateEmbeddings embeds texts in as few requests as MaxBatchInputs allows.
// The result is index-aligned with texts.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchInputs {
		batch := texts[start:min(start+MaxBatchInputs, len(texts))]
		vecs, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{Input: texts, Model: c.model}
	// ada-002 has a fixed size and rejects the parameter
	if c.model != openai.AdaEmbeddingV2 {
		req.Dimensions = c.dimensions
	}

	resp, err := c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) != c.dimensions {
			return nil, domain.NewDomainErrorWithCause(
				domain.ErrCodeValidation,
				fmt.Sprintf("embedding has %d dimensions, expected %d", len(d.Embedding), c.dimensions),
				domain.ErrWrongDimensions,
			)
		}
		out[i] = d.Embedding
	}
	return out, nil
}
