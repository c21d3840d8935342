package driver

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// NodeQuery selects entity nodes. Empty fields do not filter.
type NodeQuery struct {
	GroupIDs []string
	IDs      []string
	Limit    int
}

// EdgeQuery selects entity edges. Empty fields do not filter.
type EdgeQuery struct {
	GroupIDs []string
	SourceID string
	TargetID string
	// Label is compared after normalization.
	Label string
	// NodeIDs keeps edges with at least one endpoint in the set.
	NodeIDs []string
	// AsOf keeps only edges valid at that instant.
	AsOf  *time.Time
	Limit int
}

// EpisodeQuery selects episodes. Empty fields do not filter.
type EpisodeQuery struct {
	GroupIDs []string
	// Before keeps episodes whose valid_at is strictly earlier.
	Before *time.Time
	Limit  int
}

// SearchOptions holds options for text-based search operations.
type SearchOptions struct {
	GroupIDs []string   `json:"group_ids,omitempty"`
	Limit    int        `json:"limit"`
	AsOf     *time.Time `json:"as_of,omitempty"`
}

// Matches reports whether n satisfies the query.
func (q NodeQuery) Matches(n *types.EntityNode) bool {
	if len(q.GroupIDs) > 0 && !slices.Contains(q.GroupIDs, n.GroupID) {
		return false
	}
	if len(q.IDs) > 0 && !slices.Contains(q.IDs, n.ID) {
		return false
	}
	return true
}

// Matches reports whether ep satisfies the query.
func (q EpisodeQuery) Matches(ep *types.EpisodicNode) bool {
	if len(q.GroupIDs) > 0 && !slices.Contains(q.GroupIDs, ep.GroupID) {
		return false
	}
	if q.Before != nil && !ep.ValidAt.Before(*q.Before) {
		return false
	}
	return true
}

// Matches reports whether e satisfies the query.
func (q EdgeQuery) Matches(e *types.EntityEdge) bool {
	if len(q.GroupIDs) > 0 && !slices.Contains(q.GroupIDs, e.GroupID) {
		return false
	}
	if q.SourceID != "" && e.SourceID != q.SourceID {
		return false
	}
	if q.TargetID != "" && e.TargetID != q.TargetID {
		return false
	}
	if q.Label != "" && types.NormalizeLabel(e.Label) != types.NormalizeLabel(q.Label) {
		return false
	}
	if len(q.NodeIDs) > 0 && !slices.Contains(q.NodeIDs, e.SourceID) && !slices.Contains(q.NodeIDs, e.TargetID) {
		return false
	}
	if q.AsOf != nil && !e.ValidAsOf(*q.AsOf) {
		return false
	}
	return true
}

func (o *SearchOptions) groupIDs() []string {
	if o == nil {
		return nil
	}
	return o.GroupIDs
}

func (o *SearchOptions) limit() int {
	if o == nil {
		return 0
	}
	return o.Limit
}

func (o *SearchOptions) asOf() *time.Time {
	if o == nil {
		return nil
	}
	return o.AsOf
}

// queryTokens lower-cases and splits a search string the same way for every
// backend.
func queryTokens(query string) []string {
	tokens := utils.Tokenize(query)
	slices.Sort(tokens)
	return slices.Compact(tokens)
}

func containsAnyToken(text string, tokens []string) bool {
	lower := strings.ToLower(text)
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func nodeTextMatches(n *types.EntityNode, tokens []string) bool {
	return containsAnyToken(n.Name, tokens) || containsAnyToken(n.Summary, tokens)
}

func edgeTextMatches(e *types.EntityEdge, tokens []string) bool {
	return containsAnyToken(e.Fact, tokens)
}

func sortNodes(nodes []*types.EntityNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// sortEpisodes orders episodes most recent first.
func sortEpisodes(episodes []*types.EpisodicNode) {
	sort.SliceStable(episodes, func(i, j int) bool {
		if !episodes[i].ValidAt.Equal(episodes[j].ValidAt) {
			return episodes[i].ValidAt.After(episodes[j].ValidAt)
		}
		return episodes[i].ID < episodes[j].ID
	})
}

func sortEdges(edges []*types.EntityEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].ID < edges[j].ID
	})
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func notFound(op, what, id string) error {
	return errkind.Ef(errkind.NotFound, op, "%s %q not found", what, id)
}

func invalid(op string, err error) error {
	return errkind.E(errkind.Invalid, op, err)
}

func storageErr(op string, err error) error {
	return errkind.Wrap(errkind.Storage, op, err)
}

func missingEndpoint(op string, e *types.EntityEdge) error {
	return errkind.Ef(errkind.ReferentialIntegrity, op, "edge %s endpoints %s -> %s do not both exist", e.ID, e.SourceID, e.TargetID).
		With("edge_id", e.ID)
}
