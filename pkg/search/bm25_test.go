package search

import (
	"testing"

	"github.com/soundprediction/chronograph/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBM25Scores(t *testing.T) {
	docs := [][]string{
		utils.Tokenize("Alice works at Acme"),
		utils.Tokenize("Acme Acme Acme builds rockets"),
		utils.Tokenize("Bob lives in Paris"),
	}

	scores := BM25Scores(utils.Tokenize("acme"), docs)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[1], scores[0])
	assert.Greater(t, scores[0], 0.0)
	assert.Equal(t, 0.0, scores[2])

	assert.Equal(t, scores, BM25Scores(utils.Tokenize("acme acme"), docs), "repeated query terms count once")
}

func TestBM25RareTermsWeighMore(t *testing.T) {
	docs := [][]string{
		utils.Tokenize("alice acme"),
		utils.Tokenize("bob acme"),
		utils.Tokenize("carol acme"),
	}
	scores := BM25Scores(utils.Tokenize("alice acme"), docs)
	assert.Greater(t, scores[0], scores[1])
	assert.Equal(t, scores[1], scores[2])
}

func TestBM25Empty(t *testing.T) {
	assert.Equal(t, []float64{0}, BM25Scores(nil, [][]string{{"a"}}))
	assert.Empty(t, BM25Scores([]string{"a"}, nil))
	assert.Equal(t, []float64{0}, BM25Scores([]string{"a"}, [][]string{{}}))
}
