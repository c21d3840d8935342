/*
Package crossencoder provides rerankers that score passages by their relevance
to a query.

The search engine applies a reranker to the top of its fused candidate list
when a query asks for it. Three implementations are available:

  - OpenAIRerankerClient asks a chat model (OpenAI or any OpenAI-compatible
    service) to classify each passage as relevant or not.
  - EmbeddingRerankerClient scores passages by the cosine similarity of
    their embeddings to the query embedding.
  - LocalRerankerClient scores passages by term-frequency cosine similarity
    without calling any service.

Usage:

	reranker, err := crossencoder.NewClient(crossencoder.ClientConfig{
		Provider:  crossencoder.ProviderOpenAI,
		Config:    crossencoder.DefaultConfig(crossencoder.ProviderOpenAI),
		NLPClient: chatClient,
	})

	ranked, err := reranker.Rank(ctx, "where does Alice work", facts)
*/
package crossencoder

import (
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/nlp"
)

// Provider represents the type of cross-encoder provider
type Provider string

const (
	// ProviderNone disables reranking.
	ProviderNone Provider = "none"

	// ProviderOpenAI uses a chat model for reranking.
	ProviderOpenAI Provider = "openai"

	// ProviderEmbedding uses embedding-based similarity for reranking.
	ProviderEmbedding Provider = "embedding"

	// ProviderLocal uses local term-frequency similarity.
	ProviderLocal Provider = "local"
)

// ClientConfig holds configuration for creating cross-encoder clients
type ClientConfig struct {
	Provider       Provider        `json:"provider"`
	Config         Config          `json:"config"`
	NLPClient      nlp.Client      `json:"-"` // required for ProviderOpenAI
	EmbedderClient embedder.Client `json:"-"` // required for ProviderEmbedding
}

// NewClient creates a cross-encoder client for the configured provider. It
// returns nil, nil for ProviderNone and an empty provider.
func NewClient(cc ClientConfig) (Client, error) {
	switch cc.Provider {
	case "", ProviderNone:
		return nil, nil

	case ProviderOpenAI:
		if cc.NLPClient == nil {
			return nil, errkind.Ef(errkind.Configuration, "crossencoder.NewClient", "a language model client is required for the openai reranker")
		}
		return NewOpenAIRerankerClient(cc.NLPClient, cc.Config), nil

	case ProviderEmbedding:
		if cc.EmbedderClient == nil {
			return nil, errkind.Ef(errkind.Configuration, "crossencoder.NewClient", "an embedder is required for the embedding reranker")
		}
		return NewEmbeddingRerankerClient(cc.EmbedderClient, cc.Config), nil

	case ProviderLocal:
		return NewLocalRerankerClient(cc.Config), nil

	default:
		return nil, errkind.Ef(errkind.Configuration, "crossencoder.NewClient", "unsupported reranker provider %q", cc.Provider)
	}
}

// DefaultConfig returns a default configuration for the given provider
func DefaultConfig(provider Provider) Config {
	switch provider {
	case ProviderOpenAI:
		return Config{Model: "gpt-4o-mini", BatchSize: 10, MaxConcurrency: 5}
	case ProviderEmbedding:
		return Config{BatchSize: 50, MaxConcurrency: 1}
	case ProviderLocal:
		return Config{BatchSize: 100}
	default:
		return Config{}
	}
}
