package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// maxConcurrentBatches bounds the requests one Embed call keeps in flight.
const maxConcurrentBatches = 4

// OpenAIEmbedder implements Client with the OpenAI embeddings API or any
// OpenAI-compatible service.
type OpenAIEmbedder struct {
	client *openai.Client
	config Config
}

// NewOpenAIEmbedder creates an embedder. Without a BaseURL an API key is
// required.
func NewOpenAIEmbedder(apiKey string, config Config) (*OpenAIEmbedder, error) {
	clientConfig, err := nlp.OpenAIClientConfig(apiKey, config.BaseURL)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		config: config.withDefaults(),
	}, nil
}

// Embed embeds texts in batches of BatchSize, sending up to
// maxConcurrentBatches requests at once. Vectors are returned in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batches := utils.Batch(texts, e.config.BatchSize)
	if len(batches) == 1 {
		return e.embedBatch(ctx, batches[0])
	}

	calls := make([]func() ([][]float32, error), len(batches))
	for i, batch := range batches {
		calls[i] = func() ([][]float32, error) { return e.embedBatch(ctx, batch) }
	}
	results, errs := utils.ExecuteWithResults(ctx, maxConcurrentBatches, calls...)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, vecs := range results {
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		// The API rejects empty strings.
		if strings.TrimSpace(t) == "" {
			t = " "
		}
		input[i] = t
	}

	req := openai.EmbeddingRequestStrings{
		Input: input,
		Model: openai.EmbeddingModel(e.config.Model),
	}
	if strings.HasPrefix(e.config.Model, "text-embedding-3") && e.config.Dimensions > 0 {
		req.Dimensions = e.config.Dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errkind.E(errkind.Embedding, "embedder.Embed", err).With("model", e.config.Model, "batch", len(texts))
	}
	if len(resp.Data) != len(texts) {
		return nil, errkind.Ef(errkind.Embedding, "embedder.Embed", "expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) {
			idx = i
		}
		vectors[idx] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, errkind.E(errkind.Embedding, "embedder.Embed", fmt.Errorf("missing embedding for input %d", i))
		}
	}
	return vectors, nil
}

// EmbedSingle generates an embedding for a single text.
func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimensions returns the configured vector length.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
