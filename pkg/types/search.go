package types

import "time"

// ResultKind tells whether a search result item wraps a node or an edge.
type ResultKind string

const (
	NodeResult ResultKind = "node"
	EdgeResult ResultKind = "edge"
)

// SearchQuery is the input of a hybrid search.
type SearchQuery struct {
	Query    string     `json:"query"`
	GroupIDs []string   `json:"group_ids"`
	Limit    int        `json:"limit"`
	AsOf     *time.Time `json:"as_of,omitempty"`
	// Rerank requests a reranking pass over the fused candidates.
	Rerank bool `json:"rerank"`
	// Weights overrides the configured strategy weights when non-nil.
	Weights *StrategyWeights `json:"weights,omitempty"`
}

// Validate checks the query fields.
func (q *SearchQuery) Validate() error {
	if q.Limit < 0 {
		return ErrInvalidLimit
	}
	if q.Query == "" {
		return ErrEmptyContent
	}
	return nil
}

// StrategyWeights are the fusion weights of the three retrieval strategies.
type StrategyWeights struct {
	Semantic  float64 `json:"semantic" mapstructure:"semantic"`
	Lexical   float64 `json:"lexical" mapstructure:"lexical"`
	Traversal float64 `json:"traversal" mapstructure:"traversal"`
}

// EqualWeights gives every strategy the same weight.
func EqualWeights() StrategyWeights {
	return StrategyWeights{Semantic: 1, Lexical: 1, Traversal: 1}
}

// ResultItem is one ranked node or edge.
type ResultItem struct {
	Kind  ResultKind  `json:"kind"`
	Node  *EntityNode `json:"node,omitempty"`
	Edge  *EntityEdge `json:"edge,omitempty"`
	Score float64     `json:"score"`
}

// ID returns the id of the wrapped record.
func (r ResultItem) ID() string {
	if r.Kind == EdgeResult && r.Edge != nil {
		return r.Edge.ID
	}
	if r.Node != nil {
		return r.Node.ID
	}
	return ""
}

// Text returns the text a reranker should judge.
func (r ResultItem) Text() string {
	if r.Kind == EdgeResult && r.Edge != nil {
		return r.Edge.Fact
	}
	if r.Node != nil {
		if r.Node.Summary != "" {
			return r.Node.Name + ": " + r.Node.Summary
		}
		return r.Node.Name
	}
	return ""
}

// SearchResults is the output of a hybrid search.
type SearchResults struct {
	Query string       `json:"query"`
	Items []ResultItem `json:"items"`
	// Degraded is set when a strategy failed and the ranking was produced from
	// the remaining ones.
	Degraded bool `json:"degraded"`
	// Reranked is set when the reranker reordered the items.
	Reranked bool `json:"reranked"`
}

// Edges returns the edge items in rank order.
func (r *SearchResults) Edges() []*EntityEdge {
	var out []*EntityEdge
	for _, it := range r.Items {
		if it.Kind == EdgeResult {
			out = append(out, it.Edge)
		}
	}
	return out
}

// Nodes returns the node items in rank order.
func (r *SearchResults) Nodes() []*EntityNode {
	var out []*EntityNode
	for _, it := range r.Items {
		if it.Kind == NodeResult {
			out = append(out, it.Node)
		}
	}
	return out
}

// AddEpisodeResult reports every graph mutation made for one episode.
type AddEpisodeResult struct {
	Episode          *EpisodicNode `json:"episode"`
	Nodes            []*EntityNode `json:"nodes"`
	Edges            []*EntityEdge `json:"edges"`
	InvalidatedEdges []*EntityEdge `json:"invalidated_edges"`
	ConfirmedEdges   []*EntityEdge `json:"confirmed_edges"`
}
