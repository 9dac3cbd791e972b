package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cicciopanzer27/mia/llm"
)

// OllamaProvider implements the native Ollama generate API.
type OllamaProvider struct{}

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

// Name returns the provider identifier.
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// BuildURL constructs the generate endpoint.
func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/api/generate") {
		return baseURL
	}

	return baseURL + "/api/generate"
}

// SetHeaders is a no-op; a local Ollama server needs no authentication.
func (o *OllamaProvider) SetHeaders(_ *http.Request) {}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

// BuildRequestBody creates a non-streaming generate request.
func (o *OllamaProvider) BuildRequestBody(model, prompt string, temperature *float64, maxTokens int) ([]byte, error) {
	req := ollamaRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
	}

	if temperature != nil || maxTokens > 0 {
		req.Options = &ollamaOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
		}
	}

	return json.Marshal(req)
}

type ollamaResponse struct {
	Model           string  `json:"model"`
	Response        *string `json:"response"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

// ParseResponse extracts the "response" field. A body without it is a
// protocol violation.
func (o *OllamaProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse ollama response: %w", err)
	}

	if resp.Response == nil {
		if resp.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", resp.Error)
		}
		return nil, fmt.Errorf("missing \"response\" field in ollama response")
	}

	if resp.Model == "" {
		resp.Model = model
	}

	return &llm.Response{
		Content: *resp.Response,
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		FinishReason: resp.DoneReason,
	}, nil
}
