package maintenance

import (
	"log/slog"
	"slices"
	"time"

	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// DefaultDuplicateThreshold is the fact similarity at or above which a
// candidate edge confirms an existing one instead of creating a new edge.
const DefaultDuplicateThreshold = 0.9

// NodeSet is the set of entity nodes resolved for the episode being ingested,
// keyed by node id.
type NodeSet map[string]*types.EntityNode

// NewNodeSet indexes nodes by id.
func NewNodeSet(nodes ...*types.EntityNode) NodeSet {
	set := make(NodeSet, len(nodes))
	for _, n := range nodes {
		if n != nil {
			set[n.ID] = n
		}
	}
	return set
}

// WriteSet is the outcome of resolving one candidate edge. Exactly one of
// NewEdge and Confirmed is set.
type WriteSet struct {
	NewEdge     *types.EntityEdge
	Invalidated []*types.EntityEdge
	Confirmed   *types.EntityEdge
}

// TemporalResolver decides how a candidate edge interacts with the existing
// edges under the same (group, source, target, label) key.
type TemporalResolver struct {
	DuplicateThreshold float64
	logger             *slog.Logger
}

// NewTemporalResolver creates a resolver. A non-positive threshold uses
// DefaultDuplicateThreshold.
func NewTemporalResolver(duplicateThreshold float64, logger *slog.Logger) *TemporalResolver {
	if duplicateThreshold <= 0 {
		duplicateThreshold = DefaultDuplicateThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TemporalResolver{DuplicateThreshold: duplicateThreshold, logger: logger}
}

// Resolve computes the write-set for candidate. existing may contain edges
// with other keys; they are ignored. Neither candidate nor existing is
// modified.
func (tr *TemporalResolver) Resolve(candidate *types.EntityEdge, existing []*types.EntityEdge, nodes NodeSet) (*WriteSet, error) {
	if err := tr.checkEndpoints(candidate, nodes); err != nil {
		return nil, err
	}

	cand := candidate.Clone()
	if cand.InvalidAt != nil && cand.InvalidAt.Before(cand.ValidAt) {
		tr.logger.Debug("dropping invalid_at earlier than valid_at",
			"edge_id", cand.ID, "valid_at", cand.ValidAt, "invalid_at", *cand.InvalidAt)
		cand.InvalidAt = nil
	}
	if err := cand.Validate(); err != nil {
		return nil, errkind.E(errkind.Invalid, "resolver.Resolve", err).With("edge_id", cand.ID)
	}

	key := cand.Key()
	related := make([]*types.EntityEdge, 0, len(existing))
	for _, e := range existing {
		if e == nil || e.ID == cand.ID || e.Key() != key {
			continue
		}
		related = append(related, e)
	}

	if dup := tr.findDuplicate(cand, related); dup != nil {
		confirmed := dup.Clone()
		if !confirmed.HasEpisode(cand.EpisodeID) && cand.EpisodeID != "" {
			confirmed.Episodes = append(confirmed.Episodes, cand.EpisodeID)
		}
		tr.logger.Debug("candidate confirms existing edge",
			"edge_id", dup.ID, "episode_id", cand.EpisodeID, "key", key.String())
		return &WriteSet{Confirmed: confirmed}, nil
	}

	slices.SortStableFunc(related, func(a, b *types.EntityEdge) int {
		return a.ValidAt.Compare(b.ValidAt)
	})

	ws := &WriteSet{NewEdge: cand}
	for _, e := range related {
		if e.ValidAt.After(cand.ValidAt) {
			// A later fact exists: the candidate is historical and ends where
			// the first later fact begins.
			if cand.InvalidAt == nil || e.ValidAt.Before(*cand.InvalidAt) {
				end := e.ValidAt
				cand.InvalidAt = &end
			}
			break
		}
		if e.InvalidAt != nil && !e.InvalidAt.After(cand.ValidAt) {
			continue
		}
		closed := e.Clone()
		end := cand.ValidAt
		closed.InvalidAt = &end
		ws.Invalidated = append(ws.Invalidated, closed)
	}

	if len(ws.Invalidated) > 0 {
		tr.logger.Debug("candidate invalidates existing edges",
			"edge_id", cand.ID, "invalidated", len(ws.Invalidated), "key", key.String())
	}
	return ws, nil
}

func (tr *TemporalResolver) checkEndpoints(e *types.EntityEdge, nodes NodeSet) error {
	for _, id := range []string{e.SourceID, e.TargetID} {
		n, ok := nodes[id]
		if !ok {
			return errkind.Ef(errkind.ReferentialIntegrity, "resolver.Resolve",
				"edge references node %q outside the episode's node set", id).
				With("edge_id", e.ID, "node_id", id, "group_id", e.GroupID, "episode_id", e.EpisodeID)
		}
		if n.GroupID != e.GroupID {
			return errkind.Ef(errkind.ReferentialIntegrity, "resolver.Resolve",
				"edge in group %q references node %q of group %q", e.GroupID, id, n.GroupID).
				With("edge_id", e.ID, "node_id", id, "episode_id", e.EpisodeID)
		}
	}
	return nil
}

// findDuplicate returns the most similar related edge that the candidate
// restates, or nil. Only open edges and edges starting at the same instant
// qualify; a closed edge that is asserted again later is a new fact.
func (tr *TemporalResolver) findDuplicate(cand *types.EntityEdge, related []*types.EntityEdge) *types.EntityEdge {
	var best *types.EntityEdge
	bestScore := 0.0
	for _, e := range related {
		if !e.IsOpen() && !e.ValidAt.Equal(cand.ValidAt) {
			continue
		}
		score := FactSimilarity(cand, e)
		if score >= tr.DuplicateThreshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	return best
}

// FactSimilarity compares two facts by the cosine of their embeddings when
// both have one, and by token overlap of the text otherwise.
func FactSimilarity(a, b *types.EntityEdge) float64 {
	if len(a.FactEmbedding) > 0 && len(a.FactEmbedding) == len(b.FactEmbedding) {
		return utils.CosineSimilarity(a.FactEmbedding, b.FactEmbedding)
	}
	return utils.TokenSimilarity(a.Fact, b.Fact)
}

// ValidateTemporalConsistency checks an edge's validity window.
func ValidateTemporalConsistency(edge *types.EntityEdge) error {
	if edge.ValidAt.IsZero() {
		return errkind.E(errkind.Invalid, "resolver.Validate", types.ErrMissingValid).With("edge_id", edge.ID)
	}
	if edge.InvalidAt != nil && edge.InvalidAt.Before(edge.ValidAt) {
		return errkind.Ef(errkind.Invalid, "resolver.Validate",
			"invalid_at %s is before valid_at %s", edge.InvalidAt.Format(time.RFC3339), edge.ValidAt.Format(time.RFC3339)).
			With("edge_id", edge.ID)
	}
	return nil
}

// ActiveEdgesAt returns the edges that held at t.
func ActiveEdgesAt(edges []*types.EntityEdge, t time.Time) []*types.EntityEdge {
	var active []*types.EntityEdge
	for _, e := range edges {
		if e.ValidAsOf(t) {
			active = append(active, e)
		}
	}
	return active
}

// EdgeLifespan returns how long the edge held, or nil while it is still open.
func EdgeLifespan(edge *types.EntityEdge) *time.Duration {
	if edge.InvalidAt == nil {
		return nil
	}
	d := edge.InvalidAt.Sub(edge.ValidAt)
	return &d
}

// OpenEdgeViolations groups edges by key and returns the keys that have more
// than one open edge.
func OpenEdgeViolations(edges []*types.EntityEdge) map[types.EdgeKey][]*types.EntityEdge {
	open := make(map[types.EdgeKey][]*types.EntityEdge)
	for _, e := range edges {
		if e.IsOpen() {
			open[e.Key()] = append(open[e.Key()], e)
		}
	}
	for k, es := range open {
		if len(es) < 2 {
			delete(open, k)
		}
	}
	return open
}
