package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cicciopanzer27/mia/llm"
	_ "github.com/cicciopanzer27/mia/llm/providers" // Register providers
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_Generate_Success(t *testing.T) {
	server := newOllamaServer(t, func(w http.ResponseWriter, body map[string]any) {
		assert.Equal(t, "llama3", body["model"])
		assert.Equal(t, "Explain Q_plasma", body["prompt"])
		assert.Equal(t, false, body["stream"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":    "llama3",
			"response": "Q_plasma relates to the Lawson_criterion.",
			"done":     true,
		})
	})

	client, err := llm.NewClient(llm.Endpoint{Provider: "ollama", URL: server.URL, Model: "llama3"})
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), "Explain Q_plasma")

	require.NoError(t, err)
	assert.Equal(t, "Q_plasma relates to the Lawson_criterion.", text)
	assert.Equal(t, "llama3", client.Model())
}

func TestClient_Complete_RequestID(t *testing.T) {
	server := newOllamaServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Write([]byte(`{"response":"ok"}`))
	})

	client, err := llm.NewClient(llm.Endpoint{Provider: "ollama", URL: server.URL, Model: "llama3"})
	require.NoError(t, err)

	first, err := client.Complete(context.Background(), "a")
	require.NoError(t, err)
	second, err := client.Complete(context.Background(), "b")
	require.NoError(t, err)

	assert.NotEmpty(t, first.RequestID)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, "llama3", first.Model)
}

func TestClient_Generate_StatusError(t *testing.T) {
	var attempts atomic.Int32
	server := newOllamaServer(t, func(w http.ResponseWriter, _ map[string]any) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("model is loading"))
	})

	client, err := llm.NewClient(llm.Endpoint{Provider: "ollama", URL: server.URL, Model: "llama3"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "Hello")

	require.Error(t, err)
	ge, ok := llm.IsGenerationError(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindStatus, ge.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, ge.StatusCode)
	assert.True(t, ge.Transient())
	assert.Contains(t, err.Error(), "model is loading")
	assert.Equal(t, int32(1), attempts.Load(), "requests are never retried")
}

func TestClient_Generate_ProtocolError(t *testing.T) {
	server := newOllamaServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Write([]byte(`{"model":"llama3","done":true}`))
	})

	client, err := llm.NewClient(llm.Endpoint{Provider: "ollama", URL: server.URL, Model: "llama3"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "Hello")

	ge, ok := llm.IsGenerationError(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindProtocol, ge.Kind)
	assert.False(t, ge.Transient())
}

func TestClient_Generate_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := llm.NewClient(llm.Endpoint{Provider: "ollama", URL: url, Model: "llama3"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "Hello")

	ge, ok := llm.IsGenerationError(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindUnreachable, ge.Kind)
	assert.NotEmpty(t, ge.RequestID)
}

func TestClient_Generate_ContextCanceled(t *testing.T) {
	server := newOllamaServer(t, func(w http.ResponseWriter, _ map[string]any) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"response":"late"}`))
	})

	client, err := llm.NewClient(llm.Endpoint{Provider: "ollama", URL: server.URL, Model: "llama3"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = client.Generate(ctx, "Hello")

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_Generate_OpenAIProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"model": "qwen2.5",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "compat reply"}, "finish_reason": "stop"},
			},
		})
	}))
	defer server.Close()

	client, err := llm.NewClient(llm.Endpoint{Provider: "openai", URL: server.URL + "/v1", Model: "qwen2.5"},
		llm.WithTemperature(0.2), llm.WithMaxTokens(512))
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), "Hello")

	require.NoError(t, err)
	assert.Equal(t, "compat reply", text)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := llm.NewClient(llm.Endpoint{Provider: "nope", Model: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")

	_, err = llm.NewClient(llm.Endpoint{Provider: "ollama"})
	require.Error(t, err)
}

func TestListProviders(t *testing.T) {
	assert.Equal(t, []string{"ollama", "openai"}, llm.ListProviders())
}

func TestGenerationError_Transient(t *testing.T) {
	tests := []struct {
		name string
		err  *llm.GenerationError
		want bool
	}{
		{"unreachable", &llm.GenerationError{Kind: llm.KindUnreachable}, true},
		{"rate limited", &llm.GenerationError{Kind: llm.KindStatus, StatusCode: http.StatusTooManyRequests}, true},
		{"bad gateway", &llm.GenerationError{Kind: llm.KindStatus, StatusCode: http.StatusBadGateway}, true},
		{"unauthorized", &llm.GenerationError{Kind: llm.KindStatus, StatusCode: http.StatusUnauthorized}, false},
		{"protocol", &llm.GenerationError{Kind: llm.KindProtocol}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Transient())
		})
	}
}
