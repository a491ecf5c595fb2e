package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	defaultAPIURL = "http://localhost:8080"
	userAgent     = "kbqa-cli"
	requestHeader = "X-Request-ID"
)

type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAPIClientWithCmd resolves the key and URL independently, each from the
// first of: --api-key/--api-url, KBQA_API_KEY/KBQA_API_URL, config.json.
// The URL falls back to localhost; a missing key sends no Authorization.
// A nil cmd skips the flags.
func NewAPIClientWithCmd(cmd *cobra.Command) (*APIClient, error) {
	var flagKey, flagURL string
	if cmd != nil {
		flagKey, _ = cmd.Flags().GetString("api-key")
		flagURL, _ = cmd.Flags().GetString("api-url")
	}

	apiKey := firstNonEmpty(flagKey, os.Getenv(envAPIKey))
	baseURL := firstNonEmpty(flagURL, os.Getenv(envAPIURL))

	if apiKey == "" || baseURL == "" {
		stored, err := LoadGlobalConfig()
		if err != nil {
			return nil, err
		}
		if stored != nil {
			apiKey = firstNonEmpty(apiKey, stored.APIKey)
			baseURL = firstNonEmpty(baseURL, stored.APIURL)
		}
	}

	return NewAPIClientWithConfig(apiKey, firstNonEmpty(baseURL, defaultAPIURL)), nil
}

// NewAPIClient loads an optional .env before resolving credentials.
func NewAPIClient(cmd *cobra.Command) (*APIClient, error) {
	_ = godotenv.Load()
	return NewAPIClientWithCmd(cmd)
}

// NewAPIClientWithConfig creates an APIClient with explicit config. An empty
// apiKey sends no Authorization header.
func NewAPIClientWithConfig(apiKey, baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			// turns are bounded by the server's own timeout
			Timeout: 10 * time.Minute,
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// APIResponse is the server's envelope: data on success, error fields otherwise.
type APIResponse struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Retryable  bool
	Attempts   int
	RequestID  string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "API error (%d): %s", e.StatusCode, e.Message)
	if e.Retryable {
		b.WriteString(" (retryable)")
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " [request %s]", e.RequestID)
	}
	return b.String()
}

func (c *APIClient) Get(ctx context.Context, path string) (*APIResponse, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *APIClient) Post(ctx context.Context, path string, body any) (*APIResponse, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *APIClient) Delete(ctx context.Context, path string) (*APIResponse, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body any) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	failed := resp.StatusCode >= http.StatusBadRequest
	var envelope APIResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			if !failed {
				return nil, fmt.Errorf("failed to parse response: %w", err)
			}
			envelope.Error = strings.TrimSpace(string(raw))
		}
	}
	if !failed {
		return &envelope, nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    envelope.Error,
		Code:       envelope.Code,
		Retryable:  envelope.Retryable,
		Attempts:   envelope.Attempts,
		RequestID:  resp.Header.Get(requestHeader),
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return nil, apiErr
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
