package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClientConfig(t *testing.T) {
	_, err := OpenAIClientConfig("", "")
	assert.True(t, errkind.Is(errkind.Configuration, err))

	cfg, err := OpenAIClientConfig("", "http://localhost:11434")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", cfg.BaseURL)

	cfg, err = OpenAIClientConfig("key", "https://proxy.example.com/api/")
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example.com/api", cfg.BaseURL)

	_, err = OpenAIClientConfig("key", "ftp://example.com")
	assert.True(t, errkind.Is(errkind.Configuration, err))
}

func TestBuildChatRequest(t *testing.T) {
	temp := float32(0.1)
	client, err := NewOpenAIClient("", Config{BaseURL: "http://localhost:8000", Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", client.Model())

	req := client.buildChatRequest([]types.Message{NewSystemMessage("extract"), NewUserMessage("Alice joined Acme")}, true)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, float32(0.1), req.Temperature)
	assert.Contains(t, req.Messages[1].Content, "valid JSON only")
	assert.Equal(t, "extract", req.Messages[0].Content)

	plain := client.buildChatRequest([]types.Message{NewUserMessage("hi")}, false)
	assert.Nil(t, plain.ResponseFormat)
	assert.Equal(t, "hi", plain.Messages[0].Content)
}

func chatServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClientChat(t *testing.T) {
	srv := chatServer(t, http.StatusOK, map[string]any{
		"id":    "cmpl-1",
		"model": "local-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": `{"entities":[]}`},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12},
	})

	client, err := NewOpenAIClient("", Config{BaseURL: srv.URL, Model: "local-model"})
	require.NoError(t, err)

	resp, err := client.ChatWithStructuredOutput(context.Background(), []types.Message{NewUserMessage("extract")}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"entities":[]}`, resp.Content)
	assert.Equal(t, "local-model", resp.Model)
	require.NotNil(t, resp.TokensUsed)
	assert.Equal(t, 12, resp.TokensUsed.TotalTokens)
}

func TestOpenAIClientEmptyAndRateLimited(t *testing.T) {
	empty := chatServer(t, http.StatusOK, map[string]any{"id": "x", "choices": []any{}})
	client, err := NewOpenAIClient("", Config{BaseURL: empty.URL})
	require.NoError(t, err)
	_, err = client.Chat(context.Background(), []types.Message{NewUserMessage("hi")})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.True(t, IsRetryableError(err))

	limited := chatServer(t, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{"message": "slow down", "type": "rate_limit"},
	})
	client, err = NewOpenAIClient("", Config{BaseURL: limited.URL})
	require.NoError(t, err)
	_, err = client.Chat(context.Background(), []types.Message{NewUserMessage("hi")})
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.True(t, IsRetryableError(err))
}
