// Package llm provides a provider-agnostic client for single-prompt text
// generation. Providers register themselves by name; the default is the
// native Ollama generate API.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// DefaultTimeout bounds a single generation request.
const DefaultTimeout = 180 * time.Second

// Endpoint identifies the service and model a client talks to.
type Endpoint struct {
	// Provider is the registered provider name.
	Provider string `json:"provider" yaml:"provider"`

	// URL is the base URL; empty uses the provider default.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the model name passed to the service.
	Model string `json:"model" yaml:"model"`
}

// TokenUsage represents token consumption details for a call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains a generation result.
type Response struct {
	// RequestID uniquely identifies the call in logs.
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the model reported by the service.
	Model string

	// Usage contains token consumption metrics when the service reports them.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Client sends prompts to one endpoint. Requests are synchronous and never
// retried.
type Client struct {
	endpoint    Endpoint
	provider    Provider
	httpClient  *http.Client
	logger      *slog.Logger
	temperature *float64
	maxTokens   int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithTemperature sets an explicit sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(client *Client) {
		client.temperature = &t
	}
}

// WithMaxTokens limits response length. 0 uses the provider default.
func WithMaxTokens(n int) ClientOption {
	return func(client *Client) {
		client.maxTokens = n
	}
}

// NewClient creates a client for the endpoint. The provider must already
// be registered.
func NewClient(ep Endpoint, opts ...ClientOption) (*Client, error) {
	if ep.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, fmt.Errorf("unknown provider %q (registered: %s)", ep.Provider, strings.Join(ListProviders(), ", "))
	}

	c := &Client{
		endpoint: ep,
		provider: provider,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.endpoint.Model
}

// Generate sends prompt and returns the generated text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Complete sends prompt and returns the full response. Every failure is a
// *GenerationError.
func (c *Client) Complete(ctx context.Context, prompt string) (*Response, error) {
	requestID := uuid.New().String()
	startedAt := time.Now()

	resp, err := c.doRequest(ctx, requestID, prompt)
	if err != nil {
		c.logger.Warn("Generation failed",
			"request_id", requestID,
			"provider", c.endpoint.Provider,
			"model", c.endpoint.Model,
			"duration", time.Since(startedAt),
			"error", err)
		return nil, err
	}

	resp.RequestID = requestID
	c.logger.Debug("Generation complete",
		"request_id", requestID,
		"model", resp.Model,
		"chars", len(resp.Content),
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(startedAt))

	return resp, nil
}

func (c *Client) fail(kind ErrorKind, requestID string, statusCode int, err error) *GenerationError {
	return &GenerationError{
		Kind:       kind,
		Provider:   c.endpoint.Provider,
		Model:      c.endpoint.Model,
		StatusCode: statusCode,
		RequestID:  requestID,
		Err:        err,
	}
}

// doRequest executes a single HTTP request to the endpoint.
func (c *Client) doRequest(ctx context.Context, requestID, prompt string) (*Response, error) {
	url := c.provider.BuildURL(c.endpoint.URL)

	body, err := c.provider.BuildRequestBody(c.endpoint.Model, prompt, c.temperature, c.maxTokens)
	if err != nil {
		return nil, c.fail(KindProtocol, requestID, 0, fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending generation request",
		"request_id", requestID,
		"provider", c.endpoint.Provider,
		"model", c.endpoint.Model,
		"url", url,
		"prompt_chars", len(prompt))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(KindUnreachable, requestID, 0, fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	c.provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.fail(KindUnreachable, requestID, 0, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, c.fail(KindUnreachable, requestID, 0, fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.fail(KindStatus, requestID, httpResp.StatusCode, statusError(respBody))
	}

	resp, err := c.provider.ParseResponse(respBody, c.endpoint.Model)
	if err != nil {
		return nil, c.fail(KindProtocol, requestID, 0, err)
	}
	return resp, nil
}
