package maintenance

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day1.AddDate(0, 0, n-1) }

func ptr(t time.Time) *time.Time { return &t }

func testNodes(group string, ids ...string) NodeSet {
	set := NodeSet{}
	for _, id := range ids {
		set[id] = &types.EntityNode{ID: id, GroupID: group, Name: id}
	}
	return set
}

func edge(id, src, dst, label, fact string, validAt time.Time) *types.EntityEdge {
	return &types.EntityEdge{
		ID: id, GroupID: "g1", SourceID: src, TargetID: dst,
		Label: label, Fact: fact, ValidAt: validAt, CreatedAt: validAt,
		EpisodeID: "ep-" + id, Episodes: []string{"ep-" + id},
	}
}

func TestResolveNewEdgeWithoutHistory(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	cand := edge("e1", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(1))

	ws, err := tr.Resolve(cand, nil, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	require.NotNil(t, ws.NewEdge)
	assert.Nil(t, ws.Confirmed)
	assert.Empty(t, ws.Invalidated)
	assert.Nil(t, ws.NewEdge.InvalidAt)
	assert.NotSame(t, cand, ws.NewEdge, "candidate is copied")
}

func TestResolveNewerFactInvalidatesOlder(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	old := edge("e1", "alice", "acme", "WORKS_AT", "Alice is employed by the company", day(1))
	cand := edge("e2", "alice", "acme", "works at", "Alice left for a new role there", day(10))

	ws, err := tr.Resolve(cand, []*types.EntityEdge{old}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	require.NotNil(t, ws.NewEdge)
	assert.Nil(t, ws.NewEdge.InvalidAt)
	require.Len(t, ws.Invalidated, 1)
	assert.Equal(t, "e1", ws.Invalidated[0].ID)
	assert.True(t, ws.Invalidated[0].InvalidAt.Equal(day(10)))
	assert.Nil(t, old.InvalidAt, "existing edge is not mutated")
}

func TestResolveHistoricalCandidate(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	newer := edge("e1", "alice", "acme", "ROLE", "Alice is CTO", day(20))
	cand := edge("e2", "alice", "acme", "ROLE", "Alice is an engineer", day(5))

	ws, err := tr.Resolve(cand, []*types.EntityEdge{newer}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	require.NotNil(t, ws.NewEdge)
	require.NotNil(t, ws.NewEdge.InvalidAt)
	assert.True(t, ws.NewEdge.InvalidAt.Equal(day(20)))
	assert.Empty(t, ws.Invalidated, "the newer edge stays open")
}

func TestResolveHistoricalCandidateKeepsEarlierExtractedEnd(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	newer := edge("e1", "alice", "acme", "ROLE", "Alice is CTO", day(20))
	cand := edge("e2", "alice", "acme", "ROLE", "Alice is an intern", day(5))
	cand.InvalidAt = ptr(day(8))

	ws, err := tr.Resolve(cand, []*types.EntityEdge{newer}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	assert.True(t, ws.NewEdge.InvalidAt.Equal(day(8)))
}

func TestResolveInsertsBetweenTwoFacts(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	first := edge("e1", "alice", "acme", "ROLE", "Alice is an intern", day(1))
	first.InvalidAt = ptr(day(30))
	last := edge("e2", "alice", "acme", "ROLE", "Alice is CTO", day(30))
	cand := edge("e3", "alice", "acme", "ROLE", "Alice is a senior engineer", day(10))

	ws, err := tr.Resolve(cand, []*types.EntityEdge{last, first}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	require.NotNil(t, ws.NewEdge.InvalidAt)
	assert.True(t, ws.NewEdge.InvalidAt.Equal(day(30)))
	require.Len(t, ws.Invalidated, 1)
	assert.Equal(t, "e1", ws.Invalidated[0].ID)
	assert.True(t, ws.Invalidated[0].InvalidAt.Equal(day(10)))
}

func TestResolveEqualValidAtClosesExistingAtSameInstant(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	old := edge("e1", "alice", "acme", "ROLE", "Alice is an engineer", day(3))
	cand := edge("e2", "alice", "acme", "ROLE", "Alice is the chief of staff", day(3))

	ws, err := tr.Resolve(cand, []*types.EntityEdge{old}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	require.Len(t, ws.Invalidated, 1)
	closed := ws.Invalidated[0]
	assert.True(t, closed.InvalidAt.Equal(closed.ValidAt), "zero-length window")
	assert.False(t, closed.ValidAsOf(day(3)))
	assert.Nil(t, ws.NewEdge.InvalidAt)
}

func TestResolveDuplicateConfirmsOpenEdge(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	old := edge("e1", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(1))
	cand := edge("e2", "alice", "acme", "WORKS_AT", "alice works at ACME", day(4))
	cand.EpisodeID, cand.Episodes = "ep-2", []string{"ep-2"}

	ws, err := tr.Resolve(cand, []*types.EntityEdge{old}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	assert.Nil(t, ws.NewEdge)
	assert.Empty(t, ws.Invalidated)
	require.NotNil(t, ws.Confirmed)
	assert.Equal(t, "e1", ws.Confirmed.ID)
	assert.Equal(t, []string{"ep-e1", "ep-2"}, ws.Confirmed.Episodes)
	assert.True(t, ws.Confirmed.ValidAt.Equal(day(1)), "validity untouched")
	assert.Equal(t, old.Fact, ws.Confirmed.Fact)
	assert.Equal(t, []string{"ep-e1"}, old.Episodes, "existing edge is not mutated")
}

func TestResolveDuplicateUsesEmbeddings(t *testing.T) {
	tr := NewTemporalResolver(0.95, nil)
	old := edge("e1", "alice", "acme", "WORKS_AT", "Alice is on Acme's payroll", day(1))
	old.FactEmbedding = []float32{1, 0, 0}
	cand := edge("e2", "alice", "acme", "WORKS_AT", "Acme employs Alice", day(2))
	cand.FactEmbedding = []float32{0.99, 0.05, 0}

	ws, err := tr.Resolve(cand, []*types.EntityEdge{old}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	require.NotNil(t, ws.Confirmed)
	assert.Equal(t, "e1", ws.Confirmed.ID)

	cand.FactEmbedding = []float32{0, 1, 0}
	ws, err = tr.Resolve(cand, []*types.EntityEdge{old}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	assert.NotNil(t, ws.NewEdge, "dissimilar embeddings create a new fact")
}

func TestResolveReassertedClosedFactIsNew(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	first := edge("e1", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(1))
	first.InvalidAt = ptr(day(10))
	cand := edge("e2", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(40))

	ws, err := tr.Resolve(cand, []*types.EntityEdge{first}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	require.NotNil(t, ws.NewEdge)
	assert.Empty(t, ws.Invalidated, "the closed edge ended before the candidate began")
}

func TestResolveReingestedClosedFactIsConfirmed(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	first := edge("e1", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(1))
	first.InvalidAt = ptr(day(10))
	cand := edge("e2", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(1))

	ws, err := tr.Resolve(cand, []*types.EntityEdge{first}, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	require.NotNil(t, ws.Confirmed)
	assert.True(t, ws.Confirmed.InvalidAt.Equal(day(10)))
}

func TestResolveIgnoresOtherKeys(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	other := edge("e1", "alice", "globex", "WORKS_AT", "Alice works at Globex", day(1))
	cand := edge("e2", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(5))

	ws, err := tr.Resolve(cand, []*types.EntityEdge{other}, testNodes("g1", "alice", "acme", "globex"))
	require.NoError(t, err)
	assert.Empty(t, ws.Invalidated)
	assert.Nil(t, ws.NewEdge.InvalidAt)
}

func TestResolveReferentialIntegrity(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	cand := edge("e1", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(1))

	_, err := tr.Resolve(cand, nil, testNodes("g1", "alice"))
	require.Error(t, err)
	assert.True(t, errkind.Is(errkind.ReferentialIntegrity, err))
	var ke *errkind.Error
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, "acme", ke.Fields["node_id"])
	assert.Equal(t, "e1", ke.Fields["edge_id"])

	nodes := testNodes("g1", "alice")
	nodes["acme"] = &types.EntityNode{ID: "acme", GroupID: "g2", Name: "Acme"}
	_, err = tr.Resolve(cand, nil, nodes)
	assert.True(t, errkind.Is(errkind.ReferentialIntegrity, err), "cross-group endpoint")
}

func TestResolveDropsBackwardsExtractedEnd(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	cand := edge("e1", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(5))
	cand.InvalidAt = ptr(day(2))

	ws, err := tr.Resolve(cand, nil, testNodes("g1", "alice", "acme"))
	require.NoError(t, err)
	assert.Nil(t, ws.NewEdge.InvalidAt)
}

// applyWriteSet folds ws into the edge list the way a commit would.
func applyWriteSet(edges []*types.EntityEdge, ws *WriteSet) []*types.EntityEdge {
	replace := func(e *types.EntityEdge) {
		for i := range edges {
			if edges[i].ID == e.ID {
				edges[i] = e
			}
		}
	}
	if ws.Confirmed != nil {
		replace(ws.Confirmed)
		return edges
	}
	for _, inv := range ws.Invalidated {
		replace(inv)
	}
	return append(edges, ws.NewEdge)
}

func TestResolveSequenceLeavesOnlyLatestOpen(t *testing.T) {
	tr := NewTemporalResolver(0, nil)
	nodes := testNodes("g1", "alice", "acme")
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(6)
		offsets := rng.Perm(60)[:n]

		var edges []*types.EntityEdge
		for i, off := range offsets {
			cand := edge(fmt.Sprintf("e%d", i), "alice", "acme", "ROLE",
				fmt.Sprintf("role %d", i), day(1+off))
			ws, err := tr.Resolve(cand, edges, nodes)
			require.NoError(t, err)
			require.NotNil(t, ws.NewEdge)
			edges = applyWriteSet(edges, ws)
		}

		require.Len(t, edges, n)
		slices.SortFunc(edges, func(a, b *types.EntityEdge) int { return a.ValidAt.Compare(b.ValidAt) })

		var open []*types.EntityEdge
		for i, e := range edges {
			require.NoError(t, ValidateTemporalConsistency(e))
			if e.IsOpen() {
				open = append(open, e)
				continue
			}
			require.Less(t, i, len(edges)-1, "trial %d: only the latest edge may be open", trial)
			assert.True(t, e.InvalidAt.Equal(edges[i+1].ValidAt), "trial %d: windows are contiguous", trial)
		}
		require.Len(t, open, 1, "trial %d", trial)
		assert.Equal(t, edges[len(edges)-1].ID, open[0].ID)
		assert.Empty(t, OpenEdgeViolations(edges))
	}
}

func TestActiveEdgesAt(t *testing.T) {
	acme := edge("e1", "alice", "acme", "WORKS_AT", "Alice works at Acme", day(1))
	acme.InvalidAt = ptr(day(10))
	globex := edge("e2", "alice", "globex", "WORKS_AT", "Alice works at Globex", day(10))
	edges := []*types.EntityEdge{acme, globex}

	got := ActiveEdgesAt(edges, day(5))
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)

	got = ActiveEdgesAt(edges, day(10))
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID, "invalid_at is exclusive")

	assert.Empty(t, ActiveEdgesAt(edges, day(0)))
}

func TestEdgeLifespan(t *testing.T) {
	e := edge("e1", "alice", "acme", "WORKS_AT", "x", day(1))
	assert.Nil(t, EdgeLifespan(e))
	e.InvalidAt = ptr(day(3))
	require.NotNil(t, EdgeLifespan(e))
	assert.Equal(t, 48*time.Hour, *EdgeLifespan(e))
}

func TestValidateTemporalConsistency(t *testing.T) {
	e := edge("e1", "alice", "acme", "WORKS_AT", "x", day(5))
	assert.NoError(t, ValidateTemporalConsistency(e))

	e.InvalidAt = ptr(day(4))
	assert.True(t, errkind.Is(errkind.Invalid, ValidateTemporalConsistency(e)))

	e.InvalidAt = nil
	e.ValidAt = time.Time{}
	assert.True(t, errkind.Is(errkind.Invalid, ValidateTemporalConsistency(e)))
}

func TestFactSimilarity(t *testing.T) {
	a := edge("a", "x", "y", "L", "Alice works at Acme", day(1))
	b := edge("b", "x", "y", "L", "Alice works at Globex", day(1))
	assert.InDelta(t, 0.6, FactSimilarity(a, b), 1e-9)

	a.FactEmbedding = []float32{1, 0}
	b.FactEmbedding = []float32{1, 0}
	assert.InDelta(t, 1.0, FactSimilarity(a, b), 1e-9)

	b.FactEmbedding = []float32{1, 0, 0}
	assert.InDelta(t, 0.6, FactSimilarity(a, b), 1e-9, "mismatched dimensions fall back to text")
}
