package maintenance

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

const (
	DefaultNameThreshold      = 0.9
	DefaultEmbeddingThreshold = 0.92
)

// MatchReason tells why a candidate entity was merged into an existing one.
type MatchReason string

const (
	MatchExactName MatchReason = "exact_name"
	MatchAcronym   MatchReason = "acronym"
	MatchName      MatchReason = "name_similarity"
	MatchEmbedding MatchReason = "embedding_similarity"
)

func (r MatchReason) rank() int {
	switch r {
	case MatchExactName:
		return 3
	case MatchAcronym:
		return 2
	case MatchName:
		return 1
	default:
		return 0
	}
}

// NodeResolutionConfig holds the entity deduplication thresholds.
type NodeResolutionConfig struct {
	// NameThreshold is the token Jaccard similarity of normalized names at or
	// above which two entities are the same.
	NameThreshold float64
	// EmbeddingThreshold is the cosine similarity of name embeddings at or
	// above which two entities are the same.
	EmbeddingThreshold float64
	// DisableAcronyms turns off initialism matching ("IBM" and
	// "International Business Machines").
	DisableAcronyms bool
}

func (c NodeResolutionConfig) withDefaults() NodeResolutionConfig {
	if c.NameThreshold <= 0 {
		c.NameThreshold = DefaultNameThreshold
	}
	if c.EmbeddingThreshold <= 0 {
		c.EmbeddingThreshold = DefaultEmbeddingThreshold
	}
	return c
}

// NodePair records a candidate that was resolved to an existing node.
type NodePair struct {
	Source *types.EntityNode
	Target *types.EntityNode
	Reason MatchReason
	Score  float64
}

// NodeResolution is the result of resolving an episode's candidate entities.
type NodeResolution struct {
	// Nodes holds one resolved node per distinct entity, in candidate order.
	Nodes []*types.EntityNode
	// UUIDMap maps a normalized candidate name to the resolved node id.
	UUIDMap map[string]string
	// Created are new nodes to insert.
	Created []*types.EntityNode
	// Merged are existing nodes whose attributes changed.
	Merged []*types.EntityNode
	// Previous holds the stored version of every merged node.
	Previous map[string]*types.EntityNode
	// Duplicates lists the candidates that matched an existing node.
	Duplicates []NodePair
}

// NodeSet returns the resolved nodes indexed by id.
func (r *NodeResolution) NodeSet() NodeSet {
	return NewNodeSet(r.Nodes...)
}

// NodeID returns the id a candidate name resolved to.
func (r *NodeResolution) NodeID(name string) (string, bool) {
	id, ok := r.UUIDMap[utils.NormalizeName(name)]
	return id, ok
}

// NodeOperations resolves extracted entities against the stored graph.
type NodeOperations struct {
	driver driver.NodeStore
	cfg    NodeResolutionConfig
	logger *slog.Logger
}

// NewNodeOperations creates a new NodeOperations instance.
func NewNodeOperations(store driver.NodeStore, cfg NodeResolutionConfig, logger *slog.Logger) *NodeOperations {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeOperations{driver: store, cfg: cfg.withDefaults(), logger: logger}
}

// SetLogger sets a custom logger for the NodeOperations
func (no *NodeOperations) SetLogger(logger *slog.Logger) {
	no.logger = logger
}

// Config returns the thresholds in use.
func (no *NodeOperations) Config() NodeResolutionConfig {
	return no.cfg
}

// NodeLockKey is the lock key serializing node resolution in a group. Acronym,
// token and embedding matches cross names, so the whole group is one key,
// held from ResolveExtractedNodes until the created nodes are committed.
func NodeLockKey(groupID string) string {
	return "node|" + groupID
}

// ResolveExtractedNodes loads the group's entities and resolves candidates
// against them. Acronym and embedding matches need the whole group, so no
// lexical prefilter is applied.
func (no *NodeOperations) ResolveExtractedNodes(ctx context.Context, groupID string, candidates []*types.EntityNode, at time.Time) (*NodeResolution, error) {
	if len(candidates) == 0 {
		return &NodeResolution{UUIDMap: map[string]string{}, Previous: map[string]*types.EntityNode{}}, nil
	}
	existing, err := no.driver.ListNodes(ctx, driver.NodeQuery{GroupIDs: []string{groupID}})
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, "nodes.Resolve", err)
	}
	res := no.Resolve(candidates, existing, at)
	no.logger.Debug("resolved extracted nodes",
		"group_id", groupID,
		"candidates", len(candidates),
		"created", len(res.Created),
		"merged", len(res.Merged),
		"duplicates", len(res.Duplicates))
	return res, nil
}

// Resolve matches every candidate against existing and against the
// candidates resolved before it. Matching nodes are merged; the rest are
// created. existing is not modified.
func (no *NodeOperations) Resolve(candidates, existing []*types.EntityNode, at time.Time) *NodeResolution {
	res := &NodeResolution{
		UUIDMap:  make(map[string]string, len(candidates)),
		Previous: make(map[string]*types.EntityNode),
	}

	stored := make(map[string]bool, len(existing))
	pool := make([]*types.EntityNode, 0, len(existing)+len(candidates))
	for _, n := range existing {
		stored[n.ID] = true
		pool = append(pool, n)
	}
	working := make(map[string]*types.EntityNode)
	seen := make(map[string]bool)
	changed := make(map[string]bool)

	for _, cand := range candidates {
		key := utils.NormalizeName(cand.Name)
		if id, ok := res.UUIDMap[key]; ok {
			if n := working[id]; n != nil && n.Merge(cand, at) && stored[id] {
				changed[id] = true
			}
			continue
		}

		var groupPool []*types.EntityNode
		for _, n := range pool {
			if n.GroupID == cand.GroupID {
				groupPool = append(groupPool, n)
			}
		}
		match, reason, score := no.Match(cand, groupPool)

		if match == nil {
			n := cand.Clone()
			working[n.ID] = n
			pool = append(pool, n)
			res.Created = append(res.Created, n)
			res.UUIDMap[key] = n.ID
			if !seen[n.ID] {
				seen[n.ID] = true
				res.Nodes = append(res.Nodes, n)
			}
			continue
		}

		target := working[match.ID]
		if target == nil {
			res.Previous[match.ID] = match.Clone()
			target = match.Clone()
			working[match.ID] = target
			for i, n := range pool {
				if n.ID == match.ID {
					pool[i] = target
				}
			}
		}
		if target.Merge(cand, at) && stored[target.ID] {
			changed[target.ID] = true
		}
		if stored[target.ID] {
			res.Duplicates = append(res.Duplicates, NodePair{Source: cand, Target: target, Reason: reason, Score: score})
		}
		res.UUIDMap[key] = target.ID
		if !seen[target.ID] {
			seen[target.ID] = true
			res.Nodes = append(res.Nodes, target)
		}
	}

	for _, n := range res.Nodes {
		if changed[n.ID] {
			res.Merged = append(res.Merged, n)
		}
	}
	for id := range res.Previous {
		if !changed[id] {
			delete(res.Previous, id)
		}
	}
	return res
}

// Match returns the best node in pool for candidate, or nil. Ties prefer the
// stronger reason, then the oldest node.
func (no *NodeOperations) Match(candidate *types.EntityNode, pool []*types.EntityNode) (*types.EntityNode, MatchReason, float64) {
	var (
		best       *types.EntityNode
		bestReason MatchReason
		bestScore  float64
	)
	name := utils.NormalizeName(candidate.Name)
	for _, n := range pool {
		reason, score, ok := no.compare(name, candidate, n)
		if !ok {
			continue
		}
		better := best == nil ||
			score > bestScore ||
			(score == bestScore && reason.rank() > bestReason.rank()) ||
			(score == bestScore && reason == bestReason && n.CreatedAt.Before(best.CreatedAt))
		if better {
			best, bestReason, bestScore = n, reason, score
		}
	}
	return best, bestReason, bestScore
}

func (no *NodeOperations) compare(name string, cand, n *types.EntityNode) (MatchReason, float64, bool) {
	other := utils.NormalizeName(n.Name)
	if name != "" && name == other {
		return MatchExactName, 1, true
	}
	if !no.cfg.DisableAcronyms {
		if (looksLikeAcronym(cand.Name) && utils.IsAcronymOf(cand.Name, n.Name)) ||
			(looksLikeAcronym(n.Name) && utils.IsAcronymOf(n.Name, cand.Name)) {
			return MatchAcronym, 1, true
		}
	}

	reason, score, ok := MatchReason(""), 0.0, false
	if sim := utils.TokenSimilarity(name, other); sim >= no.cfg.NameThreshold {
		reason, score, ok = MatchName, sim, true
	}
	if len(cand.NameEmbedding) > 0 && len(cand.NameEmbedding) == len(n.NameEmbedding) {
		if cos := utils.CosineSimilarity(cand.NameEmbedding, n.NameEmbedding); cos >= no.cfg.EmbeddingThreshold && cos > score {
			reason, score, ok = MatchEmbedding, cos, true
		}
	}
	return reason, score, ok
}

// looksLikeAcronym accepts a single upper-case token of two or more letters,
// so ordinary short words ("It", "Al") are not read as initialisms.
func looksLikeAcronym(s string) bool {
	s = strings.TrimSpace(s)
	if len([]rune(s)) < 2 {
		return false
	}
	for _, r := range s {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// CandidateNodes turns extracted entities into unsaved nodes for group.
func CandidateNodes(groupID string, entities []types.CandidateEntity, at time.Time) []*types.EntityNode {
	nodes := make([]*types.EntityNode, 0, len(entities))
	for _, e := range entities {
		labels := e.Labels
		if len(labels) == 0 {
			labels = []string{"Entity"}
		}
		nodes = append(nodes, &types.EntityNode{
			ID:         utils.GenerateUUID(),
			GroupID:    groupID,
			Name:       e.Name,
			Labels:     append([]string(nil), labels...),
			Attributes: e.Attributes,
			Summary:    e.Summary,
			CreatedAt:  at,
			UpdatedAt:  at,
		})
	}
	return nodes
}
