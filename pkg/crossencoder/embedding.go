package crossencoder

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// EmbeddingRerankerClient scores passages by the cosine similarity between
// their embeddings and the query embedding. It is a bi-encoder stand-in for
// a true cross-encoder.
type EmbeddingRerankerClient struct {
	embedder embedder.Client
	config   Config
}

// NewEmbeddingRerankerClient creates a new embedding-based reranker client
func NewEmbeddingRerankerClient(embedderClient embedder.Client, config Config) *EmbeddingRerankerClient {
	return &EmbeddingRerankerClient{embedder: embedderClient, config: config}
}

// Rank embeds the query and passages in one call and maps cosine
// similarity from [-1,1] to [0,1].
func (c *EmbeddingRerankerClient) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	ranked := make([]RankedPassage, len(passages))
	if len(passages) == 0 {
		return ranked, nil
	}

	texts := append([]string{query}, passages...)
	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, errkind.E(errkind.Rerank, "crossencoder.Rank", err)
	}
	if len(vectors) != len(texts) {
		return nil, errkind.Ef(errkind.Rerank, "crossencoder.Rank", "expected %d embeddings, got %d", len(texts), len(vectors))
	}

	q := vectors[0]
	for i, passage := range passages {
		sim := utils.CosineSimilarity(q, vectors[i+1])
		ranked[i] = RankedPassage{Passage: passage, Score: clamp01((sim + 1) / 2), Index: i}
	}
	sortRanked(ranked)
	return ranked, nil
}

// Close does not close the shared embedder.
func (c *EmbeddingRerankerClient) Close() error {
	return nil
}
