package crossencoder

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
	"golang.org/x/sync/errgroup"
)

// OpenAIRerankerClient scores each passage with a boolean relevance prompt,
// running up to MaxConcurrency prompts at once.
type OpenAIRerankerClient struct {
	client nlp.Client
	config Config
}

// NewOpenAIRerankerClient creates a new OpenAI-based reranker client
func NewOpenAIRerankerClient(client nlp.Client, config Config) *OpenAIRerankerClient {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	return &OpenAIRerankerClient{client: client, config: config}
}

// Rank ranks the given passages based on their relevance to the query
func (c *OpenAIRerankerClient) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	ranked := make([]RankedPassage, len(passages))
	if len(passages) == 0 {
		return ranked, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrency)
	for i, passage := range passages {
		g.Go(func() error {
			score, err := c.scorePassage(gctx, query, passage)
			if err != nil {
				return fmt.Errorf("passage %d: %w", i, err)
			}
			ranked[i] = RankedPassage{Passage: passage, Score: score, Index: i}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errkind.E(errkind.Rerank, "crossencoder.Rank", err)
	}

	sortRanked(ranked)
	return ranked, nil
}

func (c *OpenAIRerankerClient) scorePassage(ctx context.Context, query, passage string) (float64, error) {
	messages := []types.Message{
		nlp.NewSystemMessage("You are an expert tasked with determining whether the passage is relevant to the query"),
		nlp.NewUserMessage(fmt.Sprintf(`Respond with "True" if PASSAGE is relevant to QUERY and "False" otherwise.
<PASSAGE>
%s
</PASSAGE>
<QUERY>
%s
</QUERY>`, passage, query)),
	}

	resp, err := c.client.Chat(ctx, messages)
	if err != nil {
		return 0, err
	}
	return relevanceScore(resp.Content), nil
}

// relevanceScore maps a True/False style answer to a score.
func relevanceScore(content string) float64 {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return 0.5
	}
	word := strings.ToLower(strings.Trim(fields[0], `"'.,:;!`))
	switch word {
	case "true", "yes", "relevant":
		return 0.8
	case "false", "no", "irrelevant":
		return 0.2
	default:
		return 0.5
	}
}

// Close closes the underlying language model client.
func (c *OpenAIRerankerClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
