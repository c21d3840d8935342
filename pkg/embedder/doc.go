// Package embedder provides text embedding clients for vector representations.
//
// Embeddings are computed for entity names (node resolution and semantic
// search over nodes), edge facts (duplicate detection and semantic search
// over facts) and search queries.
//
// # Usage
//
//	client, err := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{
//	    Model:     "text-embedding-3-small",
//	    BatchSize: 100,
//	})
//
//	vectors, err := client.Embed(ctx, []string{"Alice works at Acme"})
//
// Embed splits its input into batches of at most BatchSize texts and returns
// one vector per input in order. Any OpenAI-compatible endpoint (Ollama,
// vLLM, LocalAI) can be used through Config.BaseURL.
package embedder
