package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderOpenAI, ProviderOptions{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())

	p, err = NewProvider(ProviderAnthropic, ProviderOptions{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p.Name())

	_, err = NewProvider("gemini", ProviderOptions{APIKey: "x"})
	assert.Error(t, err)

	_, err = NewProvider(ProviderOpenAI, ProviderOptions{})
	assert.Error(t, err)
}

func TestOpenAIProvider_Call(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Вот задача: ..."}}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(ProviderOptions{APIKey: "sk-test", BaseURL: server.URL + "/"})

	resp, err := p.Call(context.Background(), Request{
		Model:       "gpt-4o-mini",
		Messages:    testMessages,
		MaxTokens:   250,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Вот задача: ...", resp.Content)
	assert.Equal(t, 42, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)

	assert.Equal(t, "gpt-4o-mini", received["model"])
	assert.EqualValues(t, 250, received["max_tokens"])
	assert.EqualValues(t, 0.7, received["temperature"])

	messages, ok := received["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "persona", first["content"])
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":0,"model":"gpt-4o-mini","choices":[]}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(ProviderOptions{APIKey: "sk-test", BaseURL: server.URL + "/"})

	_, err := p.Call(context.Background(), Request{Model: "gpt-4o-mini", Messages: testMessages})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestOpenAIProvider_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusInternalServerError, KindServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			}))
			defer server.Close()

			p := NewOpenAIProvider(ProviderOptions{APIKey: "sk-test", BaseURL: server.URL + "/"})

			_, err := p.Call(context.Background(), Request{Model: "gpt-4o-mini", Messages: testMessages})
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestOpenAIProvider_RejectsUnknownRole(t *testing.T) {
	p := NewOpenAIProvider(ProviderOptions{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/"})

	_, err := p.Call(context.Background(), Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "tool", Content: "x"}},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAnthropicProvider_Call(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "Периметр равен 12."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 30, "output_tokens": 5}
		}`)
	}))
	defer server.Close()

	p := NewAnthropicProvider(ProviderOptions{APIKey: "sk-ant-test", BaseURL: server.URL + "/"})

	resp, err := p.Call(context.Background(), Request{
		Model:     "claude-3-5-haiku-latest",
		MaxTokens: 250,
		Messages: []Message{
			{Role: "system", Content: "persona"},
			{Role: "assistant", Content: "orphaned reply"},
			{Role: "user", Content: "first"},
			{Role: "user", Content: "second"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Периметр равен 12.", resp.Content)
	assert.Equal(t, 30, resp.Usage.InputTokens)

	system, ok := received["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "persona", system[0].(map[string]any)["text"])

	messages, ok := received["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestAnthropicProvider_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	p := NewAnthropicProvider(ProviderOptions{APIKey: "sk-ant-test", BaseURL: server.URL + "/"})

	_, err := p.Call(context.Background(), Request{
		Model:    "claude-3-5-haiku-latest",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, KindAuth, Classify(err))
}

func TestAlternateTurns(t *testing.T) {
	turns := alternateTurns([]Message{
		{Role: "assistant", Content: "a0"},
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
		{Role: "user", Content: "u3"},
	})

	require.Len(t, turns, 3)
	assert.Equal(t, "u1", turns[0].Content)
	assert.Equal(t, "a1", turns[1].Content)
	assert.Equal(t, "u2\n\nu3", turns[2].Content)
}
