package search

import (
	"context"
	"slices"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// traverse expands breadth-first from the seed nodes over edges valid at the
// query's point in time. An edge first met on hop h scores 1/h; a node first
// reached at depth d scores 1/(1+d). Seeds themselves are not returned.
func (s *HybridSearcher) traverse(ctx context.Context, q types.SearchQuery, seeds []string) ([]candidate, error) {
	if len(seeds) == 0 {
		return nil, nil
	}

	depth := make(map[string]int, len(seeds))
	for _, id := range seeds {
		depth[id] = 0
	}
	seenEdges := make(map[string]struct{})
	var scored []utils.ScoredItem[types.ResultItem]

	frontier := seeds
	for hop := 1; hop <= s.config.MaxHops && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		edges, err := s.store.ListEdges(ctx, driver.EdgeQuery{
			GroupIDs: q.GroupIDs,
			NodeIDs:  frontier,
			AsOf:     q.AsOf,
		})
		if err != nil {
			return nil, err
		}

		var next []string
		for _, e := range edges {
			if q.AsOf != nil && !e.ValidAsOf(*q.AsOf) {
				continue
			}
			if _, ok := seenEdges[e.ID]; ok {
				continue
			}
			seenEdges[e.ID] = struct{}{}
			scored = append(scored, utils.ScoredItem[types.ResultItem]{
				Item:  types.ResultItem{Kind: types.EdgeResult, Edge: e},
				Score: 1 / float64(hop),
			})
			for _, id := range []string{e.SourceID, e.TargetID} {
				if _, ok := depth[id]; !ok {
					depth[id] = hop
					next = append(next, id)
				}
			}
		}
		slices.Sort(next)
		frontier = next
	}

	reached := make([]string, 0, len(depth))
	for id, d := range depth {
		if d > 0 {
			reached = append(reached, id)
		}
	}
	if len(reached) > 0 {
		slices.Sort(reached)
		nodes, err := s.store.ListNodes(ctx, driver.NodeQuery{GroupIDs: q.GroupIDs, IDs: reached})
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			scored = append(scored, utils.ScoredItem[types.ResultItem]{
				Item:  types.ResultItem{Kind: types.NodeResult, Node: n},
				Score: 1 / float64(1+depth[n.ID]),
			})
		}
	}
	return toCandidates(utils.TopKByScore(scored, s.config.CandidateLimit)), nil
}
