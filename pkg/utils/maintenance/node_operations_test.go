package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id, name string, created time.Time) *types.EntityNode {
	return &types.EntityNode{ID: id, GroupID: "g1", Name: name, Labels: []string{"Entity"}, CreatedAt: created, UpdatedAt: created}
}

func TestNodeMatchBoundaryCases(t *testing.T) {
	no := NewNodeOperations(nil, NodeResolutionConfig{}, nil)

	tests := []struct {
		name      string
		candidate string
		existing  string
		reason    MatchReason
		match     bool
	}{
		{"identical", "Acme Corp", "Acme Corp", MatchExactName, true},
		{"case and punctuation", "acme corp.", "ACME Corp", MatchExactName, true},
		{"acronym of existing", "IBM", "International Business Machines", MatchAcronym, true},
		{"existing is acronym", "International Business Machines", "IBM", MatchAcronym, true},
		{"lower-case short word is not an acronym", "Ibm", "International Business Machines", "", false},
		{"acronym with wrong letters", "IBN", "International Business Machines", "", false},
		{"near duplicate below name threshold", "Acme", "Acme Corp", "", false},
		{"different people sharing a surname", "Alice Smith", "Bob Smith", "", false},
		{"word order", "Smith Alice", "Alice Smith", MatchName, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := node("c", tt.candidate, day1)
			got, reason, _ := no.Match(cand, []*types.EntityNode{node("n", tt.existing, day1)})
			if !tt.match {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestNodeMatchThresholdIsConfigurable(t *testing.T) {
	loose := NewNodeOperations(nil, NodeResolutionConfig{NameThreshold: 0.5}, nil)
	got, reason, score := loose.Match(node("c", "Acme", day1), []*types.EntityNode{node("n", "Acme Corp", day1)})
	require.NotNil(t, got)
	assert.Equal(t, MatchName, reason)
	assert.InDelta(t, 0.5, score, 1e-9)

	strict := NewNodeOperations(nil, NodeResolutionConfig{DisableAcronyms: true}, nil)
	got, _, _ = strict.Match(node("c", "IBM", day1), []*types.EntityNode{node("n", "International Business Machines", day1)})
	assert.Nil(t, got)
}

func TestNodeMatchByEmbedding(t *testing.T) {
	no := NewNodeOperations(nil, NodeResolutionConfig{}, nil)
	cand := node("c", "The Big Apple", day1)
	cand.NameEmbedding = []float32{0.6, 0.8}
	nyc := node("n", "New York City", day1)
	nyc.NameEmbedding = []float32{0.6, 0.8}
	la := node("m", "Los Angeles", day1)
	la.NameEmbedding = []float32{1, 0}

	got, reason, score := no.Match(cand, []*types.EntityNode{la, nyc})
	require.NotNil(t, got)
	assert.Equal(t, "n", got.ID)
	assert.Equal(t, MatchEmbedding, reason)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestNodeMatchPrefersOldestOnTie(t *testing.T) {
	no := NewNodeOperations(nil, NodeResolutionConfig{}, nil)
	newer := node("newer", "Acme", day(5))
	older := node("older", "ACME", day(1))

	got, _, _ := no.Match(node("c", "acme", day(9)), []*types.EntityNode{newer, older})
	require.NotNil(t, got)
	assert.Equal(t, "older", got.ID)
}

func TestNodeResolveMergesAndCreates(t *testing.T) {
	no := NewNodeOperations(nil, NodeResolutionConfig{}, nil)
	stored := node("alice", "Alice", day(1))
	stored.Attributes = map[string]any{"role": "engineer"}
	at := day(3)

	alice := node("c1", "alice", at)
	alice.Attributes = map[string]any{"team": "platform"}
	acme := node("c2", "Acme Corp", at)
	acmeAgain := node("c3", "ACME CORP", at)
	acmeAgain.Summary = "A maker of anvils"

	res := no.Resolve([]*types.EntityNode{alice, acme, acmeAgain}, []*types.EntityNode{stored}, at)

	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "alice", res.Nodes[0].ID)
	assert.Equal(t, "c2", res.Nodes[1].ID)

	require.Len(t, res.Created, 1)
	assert.Equal(t, "A maker of anvils", res.Created[0].Summary, "candidates of one episode merge together")

	require.Len(t, res.Merged, 1)
	assert.Equal(t, "platform", res.Merged[0].Attributes["team"])
	assert.Equal(t, "engineer", res.Merged[0].Attributes["role"], "attributes are never removed")
	assert.Equal(t, "Alice", res.Merged[0].Name, "canonical name is kept")
	assert.True(t, res.Merged[0].UpdatedAt.Equal(at))

	require.Contains(t, res.Previous, "alice")
	assert.NotContains(t, res.Previous["alice"].Attributes, "team")
	assert.NotContains(t, stored.Attributes, "team", "existing node is not mutated")

	require.Len(t, res.Duplicates, 1)
	assert.Equal(t, MatchExactName, res.Duplicates[0].Reason)

	id, ok := res.NodeID("ALICE")
	require.True(t, ok)
	assert.Equal(t, "alice", id)
	id, ok = res.NodeID("acme corp")
	require.True(t, ok)
	assert.Equal(t, "c2", id)

	assert.Len(t, res.NodeSet(), 2)
}

func TestNodeResolveUnchangedMatchIsNotMerged(t *testing.T) {
	no := NewNodeOperations(nil, NodeResolutionConfig{}, nil)
	stored := node("alice", "Alice", day(1))

	res := no.Resolve([]*types.EntityNode{node("c1", "Alice", day(2))}, []*types.EntityNode{stored}, day(2))
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Merged)
	assert.Empty(t, res.Previous)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "alice", res.Nodes[0].ID)
}

func TestNodeResolveStaysInGroup(t *testing.T) {
	no := NewNodeOperations(nil, NodeResolutionConfig{}, nil)
	other := node("x", "Alice", day(1))
	other.GroupID = "g2"

	res := no.Resolve([]*types.EntityNode{node("c1", "Alice", day(2))}, []*types.EntityNode{other}, day(2))
	require.Len(t, res.Created, 1)
	assert.Equal(t, "c1", res.Created[0].ID)
}

func TestResolveExtractedNodesReadsGroup(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	require.NoError(t, store.CreateNode(ctx, node("ibm", "International Business Machines", day(1))))

	no := NewNodeOperations(store, NodeResolutionConfig{}, nil)
	res, err := no.ResolveExtractedNodes(ctx, "g1", []*types.EntityNode{node("c1", "IBM", day(2))}, day(2))
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "ibm", res.Nodes[0].ID)
	assert.Equal(t, MatchAcronym, res.Duplicates[0].Reason)

	empty, err := no.ResolveExtractedNodes(ctx, "g1", nil, day(2))
	require.NoError(t, err)
	assert.Empty(t, empty.Nodes)
}

func TestCandidateNodes(t *testing.T) {
	nodes := CandidateNodes("g1", []types.CandidateEntity{
		{Name: "Alice", Attributes: map[string]any{"role": "cto"}},
		{Name: "Acme", Labels: []string{"Organization"}},
	}, day1)
	require.Len(t, nodes, 2)
	assert.NotEqual(t, nodes[0].ID, nodes[1].ID)
	assert.Equal(t, []string{"Entity"}, nodes[0].Labels)
	assert.Equal(t, []string{"Organization"}, nodes[1].Labels)
	assert.Equal(t, "g1", nodes[1].GroupID)
	assert.True(t, nodes[0].CreatedAt.Equal(day1))
}

func TestNodeLockKey(t *testing.T) {
	assert.Equal(t, "node|g1", NodeLockKey("g1"))
	assert.NotEqual(t, NodeLockKey("g1"), NodeLockKey("g2"))
}
