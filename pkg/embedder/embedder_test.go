package embedder_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer answers /v1/embeddings with [len(text), index] per input.
func embeddingServer(t *testing.T, requests *int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "unavailable"}})
			return
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(len(text)), float32(i)}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": req.Model, "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOpenAIEmbedder(t *testing.T) {
	_, err := embedder.NewOpenAIEmbedder("", embedder.Config{})
	assert.True(t, errkind.Is(errkind.Configuration, err), "no key and no base URL")

	client, err := embedder.NewOpenAIEmbedder("test-key", embedder.Config{})
	require.NoError(t, err)
	assert.Equal(t, 1536, client.Dimensions())

	client, err = embedder.NewOpenAIEmbedder("test-key", embedder.Config{Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, 3072, client.Dimensions())

	client, err = embedder.NewOpenAIEmbedder("", embedder.Config{Model: "nomic-embed-text", Dimensions: 768, BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.Equal(t, 768, client.Dimensions())
}

func TestEmbedderInterface(t *testing.T) {
	var _ embedder.Client = (*embedder.OpenAIEmbedder)(nil)
	var _ embedder.Client = (*embedder.GatedClient)(nil)
}

func TestEmbedBatches(t *testing.T) {
	var requests int32
	srv := embeddingServer(t, &requests, http.StatusOK)
	client, err := embedder.NewOpenAIEmbedder("", embedder.Config{Model: "local", BaseURL: srv.URL, BatchSize: 2})
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{2, 1}, vectors[1])
	assert.Equal(t, []float32{3, 0}, vectors[2])
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))

	single, err := client.EmbedSingle(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 0}, single)

	empty, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEmbedFailureIsEmbeddingKind(t *testing.T) {
	var requests int32
	srv := embeddingServer(t, &requests, http.StatusBadRequest)
	client, err := embedder.NewOpenAIEmbedder("", embedder.Config{Model: "local", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrEmbedding)
}

func TestGatedClientRetries(t *testing.T) {
	var requests int32
	srv := embeddingServer(t, &requests, http.StatusServiceUnavailable)
	client, err := embedder.NewOpenAIEmbedder("", embedder.Config{Model: "local", BaseURL: srv.URL})
	require.NoError(t, err)

	gate := utils.NewGate("embedding", utils.GateConfig{
		Limit: 1,
		Retry: &utils.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil)
	gated := embedder.NewGatedClient(client, gate)

	_, err = gated.EmbedSingle(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrEmbedding)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}
