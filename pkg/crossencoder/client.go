package crossencoder

import (
	"context"
	"sort"
)

// Client scores passages against a query.
type Client interface {
	// Rank returns every passage with a relevance score in [0,1], best first.
	Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error)

	Close() error
}

// RankedPassage is a passage with its relevance score. Index is the
// passage's position in the Rank input.
type RankedPassage struct {
	Passage string  `json:"passage"`
	Score   float64 `json:"score"`
	Index   int     `json:"index"`
}

// Config holds settings shared by the rerankers.
type Config struct {
	Model          string `json:"model,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
}

// sortRanked orders by descending score, then input position.
func sortRanked(ranked []RankedPassage) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Index < ranked[j].Index
	})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
