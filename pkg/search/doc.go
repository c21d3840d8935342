// Package search answers hybrid queries over the temporal knowledge graph.
//
// A query runs three strategies:
//   - Semantic: cosine similarity between the query embedding and edge fact
//     or node name embeddings.
//   - Lexical: BM25 over the backend's token-matching hits.
//   - Traversal: breadth-first expansion from the nodes the first two found.
//
// Edges are filtered to those valid at the query's AsOf instant before any
// scoring, so a superseded fact never reaches fusion. Strategy scores are
// min-max normalized and combined with configurable weights (or by weighted
// reciprocal rank). A strategy that fails is left out and the result is
// marked Degraded; when all fail the search returns a SearchUnavailable
// error.
//
// # Usage
//
//	searcher := search.NewHybridSearcher(store, emb, reranker, search.ConfigFromSettings(cfg.Search), logger)
//	results, err := searcher.Search(ctx, types.SearchQuery{
//	    Query:    "where does Alice work",
//	    GroupIDs: []string{"acme"},
//	    Limit:    10,
//	})
//
// When Rerank is set and a reranker is configured, the head of the fused
// list is reordered by the reranker. A reranker failure keeps the fused
// order.
package search
