package chronograph

import (
	"context"
	"strings"

	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/telemetry"
	"github.com/soundprediction/chronograph/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Search runs a hybrid search over the graph. Results are nodes and edges
// ranked by fused score in [0, 1]; with q.AsOf set only facts valid at that
// instant are considered.
func (c *Client) Search(ctx context.Context, q types.SearchQuery) (*types.SearchResults, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "chronograph.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.groups", strings.Join(q.GroupIDs, ",")),
		attribute.Bool("search.as_of", q.AsOf != nil),
		attribute.Bool("search.rerank", q.Rerank),
	)

	res, err := c.searcher.Search(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("search.results", len(res.Items)),
		attribute.Bool("search.degraded", res.Degraded),
	)
	return res, nil
}

// SearchContext runs Search and renders the results as a prompt context
// block.
func (c *Client) SearchContext(ctx context.Context, q types.SearchQuery) (string, error) {
	res, err := c.Search(ctx, q)
	if err != nil {
		return "", err
	}
	return search.ResultsToContextString(res)
}
