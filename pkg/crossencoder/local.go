package crossencoder

import (
	"context"
	"math"

	"github.com/soundprediction/chronograph/pkg/utils"
)

// LocalRerankerClient scores passages by the cosine similarity of term
// frequency vectors. It needs no external service.
type LocalRerankerClient struct {
	config Config
}

func NewLocalRerankerClient(config Config) *LocalRerankerClient {
	return &LocalRerankerClient{config: config}
}

func (c *LocalRerankerClient) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	q := termFrequencies(query)
	ranked := make([]RankedPassage, len(passages))
	for i, p := range passages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ranked[i] = RankedPassage{Passage: p, Score: clamp01(tfCosine(q, termFrequencies(p))), Index: i}
	}
	sortRanked(ranked)
	return ranked, nil
}

func (c *LocalRerankerClient) Close() error { return nil }

func termFrequencies(text string) map[string]float64 {
	tf := map[string]float64{}
	for _, tok := range utils.Tokenize(text) {
		tf[tok]++
	}
	return tf
}

func tfCosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for t, x := range a {
		na += x * x
		dot += x * b[t]
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
