package maintenance

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// EdgeResolution is the combined write-set of all candidate edges of one
// episode.
type EdgeResolution struct {
	// New are edges to insert.
	New []*types.EntityEdge
	// Invalidated are existing edges whose invalid_at changed.
	Invalidated []*types.EntityEdge
	// Confirmed are existing edges that only gained an episode reference.
	Confirmed []*types.EntityEdge
	// Previous holds the stored version of every invalidated or confirmed edge.
	Previous map[string]*types.EntityEdge
}

// EdgeOperations resolves extracted edges against the stored graph.
type EdgeOperations struct {
	driver   driver.EdgeStore
	resolver *TemporalResolver
	logger   *slog.Logger
}

// NewEdgeOperations creates a new EdgeOperations instance
func NewEdgeOperations(store driver.EdgeStore, resolver *TemporalResolver, logger *slog.Logger) *EdgeOperations {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = NewTemporalResolver(0, logger)
	}
	return &EdgeOperations{driver: store, resolver: resolver, logger: logger}
}

// SetLogger sets a custom logger for the EdgeOperations
func (eo *EdgeOperations) SetLogger(logger *slog.Logger) {
	eo.logger = logger
}

// EdgeLockKey is the lock key serializing resolution of one edge key.
func EdgeLockKey(k types.EdgeKey) string {
	return "edge|" + k.String()
}

// EdgeLockKeys returns the distinct lock keys of edges.
func EdgeLockKeys(edges []*types.EntityEdge) []string {
	keys := make([]string, 0, len(edges))
	for _, e := range edges {
		keys = append(keys, EdgeLockKey(e.Key()))
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// BuildCandidateEdges translates extracted relationships into unsaved edges
// between resolved nodes. Edges without a valid_at take the episode's. An
// extracted invalid_at earlier than valid_at is dropped.
func BuildCandidateEdges(episode *types.EpisodicNode, candidates []types.CandidateEdge, nodes *NodeResolution, createdAt time.Time) ([]*types.EntityEdge, error) {
	edges := make([]*types.EntityEdge, 0, len(candidates))
	for _, c := range candidates {
		src, ok := nodes.NodeID(c.SourceName)
		if !ok {
			return nil, unresolvedEndpoint(episode, c, c.SourceName)
		}
		tgt, ok := nodes.NodeID(c.TargetName)
		if !ok {
			return nil, unresolvedEndpoint(episode, c, c.TargetName)
		}

		validAt := episode.ValidAt
		if c.ValidAt != nil && !c.ValidAt.IsZero() {
			validAt = c.ValidAt.UTC()
		}
		var invalidAt *time.Time
		if c.InvalidAt != nil && !c.InvalidAt.Before(validAt) {
			t := c.InvalidAt.UTC()
			invalidAt = &t
		}

		edges = append(edges, &types.EntityEdge{
			ID:        utils.GenerateUUID(),
			GroupID:   episode.GroupID,
			SourceID:  src,
			TargetID:  tgt,
			Label:     types.NormalizeLabel(c.Label),
			Fact:      c.Fact,
			ValidAt:   validAt,
			InvalidAt: invalidAt,
			CreatedAt: createdAt,
			EpisodeID: episode.ID,
			Episodes:  []string{episode.ID},
		})
	}
	return edges, nil
}

func unresolvedEndpoint(episode *types.EpisodicNode, c types.CandidateEdge, name string) error {
	return errkind.Ef(errkind.ReferentialIntegrity, "edges.Build",
		"relationship endpoint %q was not resolved to an entity", name).
		With("episode_id", episode.ID, "group_id", episode.GroupID, "label", c.Label, "fact", c.Fact)
}

// ExistingEdges reads the stored edges under each key.
func (eo *EdgeOperations) ExistingEdges(ctx context.Context, keys []types.EdgeKey) (map[types.EdgeKey][]*types.EntityEdge, error) {
	out := make(map[types.EdgeKey][]*types.EntityEdge, len(keys))
	for _, k := range keys {
		if _, done := out[k]; done {
			continue
		}
		edges, err := eo.driver.ListEdges(ctx, driver.EdgeQuery{
			GroupIDs: []string{k.GroupID},
			SourceID: k.SourceID,
			TargetID: k.TargetID,
			Label:    k.Label,
		})
		if err != nil {
			return nil, errkind.Wrap(errkind.Storage, "edges.Existing", err)
		}
		out[k] = edges
	}
	return out, nil
}

// ResolveExtractedEdges reads the existing edges of every candidate's key
// and resolves the candidates in order. The caller must hold the edge locks.
func (eo *EdgeOperations) ResolveExtractedEdges(ctx context.Context, candidates []*types.EntityEdge, nodes NodeSet) (*EdgeResolution, error) {
	keys := make([]types.EdgeKey, 0, len(candidates))
	for _, c := range candidates {
		keys = append(keys, c.Key())
	}
	existing, err := eo.ExistingEdges(ctx, keys)
	if err != nil {
		return nil, err
	}
	return eo.ResolveEdges(candidates, existing, nodes)
}

// ResolveEdges resolves candidates one after another; each sees the edges
// written by the ones before it, so two candidates of one episode under the
// same key are ordered by valid_at like any other pair.
func (eo *EdgeOperations) ResolveEdges(candidates []*types.EntityEdge, existing map[types.EdgeKey][]*types.EntityEdge, nodes NodeSet) (*EdgeResolution, error) {
	res := &EdgeResolution{Previous: make(map[string]*types.EntityEdge)}

	working := make(map[types.EdgeKey][]*types.EntityEdge, len(existing))
	stored := make(map[string]*types.EntityEdge)
	for k, es := range existing {
		for _, e := range es {
			working[k] = append(working[k], e.Clone())
			stored[e.ID] = e
		}
	}
	isNew := make(map[string]bool)
	updated := make(map[string]*types.EntityEdge)
	var order []string

	replace := func(k types.EdgeKey, e *types.EntityEdge) {
		for i, w := range working[k] {
			if w.ID == e.ID {
				working[k][i] = e
				break
			}
		}
		if isNew[e.ID] {
			for i, n := range res.New {
				if n.ID == e.ID {
					res.New[i] = e
				}
			}
			return
		}
		if _, ok := updated[e.ID]; !ok {
			order = append(order, e.ID)
		}
		updated[e.ID] = e
	}

	for _, cand := range candidates {
		k := cand.Key()
		ws, err := eo.resolver.Resolve(cand, working[k], nodes)
		if err != nil {
			return nil, err
		}
		if ws.Confirmed != nil {
			replace(k, ws.Confirmed)
			continue
		}
		working[k] = append(working[k], ws.NewEdge)
		isNew[ws.NewEdge.ID] = true
		res.New = append(res.New, ws.NewEdge)
		for _, inv := range ws.Invalidated {
			replace(k, inv)
		}
	}

	for _, id := range order {
		e := updated[id]
		prev := stored[id]
		res.Previous[id] = prev.Clone()
		if sameInstant(prev.InvalidAt, e.InvalidAt) {
			res.Confirmed = append(res.Confirmed, e)
		} else {
			res.Invalidated = append(res.Invalidated, e)
		}
	}

	eo.logger.Debug("resolved extracted edges",
		"candidates", len(candidates),
		"new", len(res.New),
		"invalidated", len(res.Invalidated),
		"confirmed", len(res.Confirmed))
	return res, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// GetBetweenNodes returns the edges between two nodes in either direction,
// ordered by valid_at.
func (eo *EdgeOperations) GetBetweenNodes(ctx context.Context, groupID, nodeA, nodeB string, asOf *time.Time) ([]*types.EntityEdge, error) {
	var out []*types.EntityEdge
	for _, pair := range [][2]string{{nodeA, nodeB}, {nodeB, nodeA}} {
		edges, err := eo.driver.ListEdges(ctx, driver.EdgeQuery{
			GroupIDs: []string{groupID},
			SourceID: pair[0],
			TargetID: pair[1],
			AsOf:     asOf,
		})
		if err != nil {
			return nil, errkind.Wrap(errkind.Storage, "edges.Between", err)
		}
		out = append(out, edges...)
		if nodeA == nodeB {
			break
		}
	}
	slices.SortStableFunc(out, func(a, b *types.EntityEdge) int {
		if c := a.ValidAt.Compare(b.ValidAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}
