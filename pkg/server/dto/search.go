package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query    string                 `json:"query"`
	GroupIDs []string               `json:"group_ids"`
	Limit    int                    `json:"limit,omitempty"`
	AsOf     *time.Time             `json:"as_of,omitempty"`
	Rerank   bool                   `json:"rerank,omitempty"`
	Weights  *types.StrategyWeights `json:"weights,omitempty"`
}

// Validate performs validation on SearchRequest
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrEmptyQuery
	}
	if r.Limit < 0 || r.Limit > MaxSearchLimit {
		return fmt.Errorf("limit must be between 0 and %d", MaxSearchLimit)
	}
	for _, g := range r.GroupIDs {
		if err := validGroupID(g); err != nil {
			return err
		}
	}
	return nil
}

// ToQuery converts the request into an engine query.
func (r *SearchRequest) ToQuery() types.SearchQuery {
	return types.SearchQuery{
		Query:    r.Query,
		GroupIDs: r.GroupIDs,
		Limit:    r.Limit,
		AsOf:     r.AsOf,
		Rerank:   r.Rerank,
		Weights:  r.Weights,
	}
}

// SearchResponse lists ranked facts and entities.
type SearchResponse struct {
	Query    string         `json:"query"`
	Facts    []FactResult   `json:"facts"`
	Entities []EntityResult `json:"entities"`
	Degraded bool           `json:"degraded"`
	Reranked bool           `json:"reranked"`
}

// NewSearchResponse splits ranked items into facts and entities, keeping
// rank order within each list.
func NewSearchResponse(res *types.SearchResults) SearchResponse {
	out := SearchResponse{
		Query:    res.Query,
		Facts:    []FactResult{},
		Entities: []EntityResult{},
		Degraded: res.Degraded,
		Reranked: res.Reranked,
	}
	for _, it := range res.Items {
		score := it.Score
		switch it.Kind {
		case types.EdgeResult:
			f := NewFactResult(it.Edge)
			f.Score = &score
			out.Facts = append(out.Facts, f)
		case types.NodeResult:
			e := NewEntityResult(it.Node)
			e.Score = &score
			out.Entities = append(out.Entities, e)
		}
	}
	return out
}
