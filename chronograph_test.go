package chronograph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/extractor"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const group = "hr"

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func testConfig() Config {
	cfg := DefaultConfig()
	for _, g := range []*config.GateConfig{
		&cfg.Concurrency.Extraction,
		&cfg.Concurrency.Embedding,
		&cfg.Concurrency.Reranking,
		&cfg.Concurrency.Storage,
	} {
		g.MaxRetries = 0
		g.Timeout = 5 * time.Second
	}
	cfg.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return cfg
}

// scripted answers each episode content with a fixed extraction.
type scripted map[string]func() *types.ExtractionResult

func (s scripted) Extract(_ context.Context, req extractor.Request) (*types.ExtractionResult, error) {
	build, ok := s[req.Episode.Content]
	if !ok {
		return &types.ExtractionResult{}, nil
	}
	return build(), nil
}

func worksAt(person, company, fact string) func() *types.ExtractionResult {
	return func() *types.ExtractionResult {
		return &types.ExtractionResult{
			Entities: []types.CandidateEntity{{Name: person, Labels: []string{"Person"}}, {Name: company, Labels: []string{"Company"}}},
			Edges:    []types.CandidateEdge{{SourceName: person, TargetName: company, Label: "works_at", Fact: fact}},
		}
	}
}

const (
	engineerText = "Alice joined Acme as an engineer."
	managerText  = "Alice was promoted to manager at Acme."
)

func employmentExtractor() scripted {
	return scripted{
		engineerText: worksAt("Alice", "Acme", "Alice is an engineer at Acme"),
		managerText:  worksAt("Alice", "Acme", "Alice is a manager at Acme"),
	}
}

func newTestClient(t *testing.T, store driver.GraphDriver, ex extractor.Extractor) *Client {
	t.Helper()
	c, err := NewClient(Options{Driver: store, Extractor: ex, Config: testConfig()})
	require.NoError(t, err)
	return c
}

func ingest(t *testing.T, c *Client, id, content string, at time.Time) *types.AddEpisodeResult {
	t.Helper()
	res, err := c.AddEpisode(context.Background(), EpisodeInput{ID: id, GroupID: group, Content: content, OccurredAt: &at})
	require.NoError(t, err)
	return res
}

func TestNewClientRequiresDriverAndExtractor(t *testing.T) {
	_, err := NewClient(Options{Extractor: scripted{}})
	assert.True(t, errkind.Is(errkind.Configuration, err))

	_, err = NewClient(Options{Driver: driver.NewMemoryDriver()})
	assert.True(t, errkind.Is(errkind.Configuration, err))
}

func TestAddEpisodeSupersedesFact(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	c := newTestClient(t, store, employmentExtractor())

	first := ingest(t, c, "ep-1", engineerText, day(1))
	require.Len(t, first.Nodes, 2)
	require.Len(t, first.Edges, 1)
	assert.Empty(t, first.InvalidatedEdges)
	engineer := first.Edges[0]
	assert.Equal(t, "WORKS_AT", engineer.Label)
	assert.True(t, engineer.ValidAt.Equal(day(1)))
	assert.Nil(t, engineer.InvalidAt)

	second := ingest(t, c, "ep-2", managerText, day(10))
	require.Len(t, second.Edges, 1)
	require.Len(t, second.InvalidatedEdges, 1)
	assert.Equal(t, engineer.ID, second.InvalidatedEdges[0].ID)
	require.NotNil(t, second.InvalidatedEdges[0].InvalidAt)
	assert.True(t, second.InvalidatedEdges[0].InvalidAt.Equal(day(10)))

	// Alice and Acme were merged, not duplicated.
	nodes, err := store.ListNodes(ctx, driver.NodeQuery{GroupIDs: []string{group}})
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	alice := second.Edges[0].SourceID
	assert.Equal(t, engineer.SourceID, alice)

	before, err := c.FactsAsOf(ctx, group, alice, day(5))
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, "Alice is an engineer at Acme", before[0].Fact)

	after, err := c.FactsAsOf(ctx, group, alice, day(12))
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "Alice is a manager at Acme", after[0].Fact)

	history, err := c.EdgesBetween(ctx, group, alice, engineer.TargetID, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, engineer.ID, history[0].ID)

	issues, err := c.ValidateGraph(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, issues)

	stats, err := c.Stats(ctx, group)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.NodeCount)
	assert.EqualValues(t, 2, stats.EdgeCount)
	assert.EqualValues(t, 1, stats.OpenEdgeCount)
}

func TestAddEpisodeIsIdempotentForRepeatedFacts(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	c := newTestClient(t, store, employmentExtractor())

	first := ingest(t, c, "ep-1", engineerText, day(1))
	again := ingest(t, c, "ep-1b", engineerText, day(1))

	assert.Empty(t, again.Edges)
	assert.Empty(t, again.InvalidatedEdges)
	require.Len(t, again.ConfirmedEdges, 1)
	assert.Equal(t, first.Edges[0].ID, again.ConfirmedEdges[0].ID)

	stored, err := c.GetEdge(ctx, first.Edges[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ep-1", "ep-1b"}, stored.Episodes)
	assert.Nil(t, stored.InvalidAt)

	edges, err := store.ListEdges(ctx, driver.EdgeQuery{GroupIDs: []string{group}})
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestAddEpisodeValidation(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	c := newTestClient(t, store, scripted{})

	_, err := c.AddEpisode(ctx, EpisodeInput{GroupID: group, Content: "  "})
	assert.True(t, errkind.Is(errkind.Invalid, err))
	assert.ErrorIs(t, err, types.ErrEmptyContent)

	_, err = c.AddEpisode(ctx, EpisodeInput{Content: "text"})
	assert.True(t, errkind.Is(errkind.Invalid, err))

	_, err = c.AddEpisode(ctx, EpisodeInput{GroupID: group, Content: "not json", Source: types.JSONEpisodeType})
	assert.True(t, errkind.Is(errkind.Invalid, err))
}

func TestAddEpisodeDecodesJSONPayload(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, driver.NewMemoryDriver(), scripted{})

	res, err := c.AddEpisode(ctx, EpisodeInput{
		ID:      "ep-json",
		GroupID: group,
		Source:  types.JSONEpisodeType,
		Content: `{"employee":"Alice","company":"Acme"}`,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)

	ep, err := c.GetEpisode(ctx, "ep-json")
	require.NoError(t, err)
	assert.Equal(t, "Alice", ep.Payload["employee"])
	assert.Equal(t, types.JSONEpisodeType, ep.Source)
}

func TestAddEpisodeRollsBackOnExtractionTimeout(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	cfg := testConfig()
	cfg.Concurrency.Extraction.Timeout = 20 * time.Millisecond
	hang := extractor.Func(func(ctx context.Context, _ extractor.Request) (*types.ExtractionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c, err := NewClient(Options{Driver: store, Extractor: hang, Config: cfg})
	require.NoError(t, err)

	_, err = c.AddEpisode(ctx, EpisodeInput{ID: "ep-slow", GroupID: group, Content: engineerText})
	require.Error(t, err)
	assert.True(t, errkind.Is(errkind.Extraction, err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = store.GetEpisode(ctx, "ep-slow")
	assert.True(t, errkind.Is(errkind.NotFound, err))
}

// failingEdges refuses every new edge.
type failingEdges struct {
	*driver.MemoryDriver
}

func (f failingEdges) CreateEdge(context.Context, *types.EntityEdge) error {
	return errors.New("disk full")
}

func TestAddEpisodeRollsBackOnCommitFailure(t *testing.T) {
	ctx := context.Background()
	mem := driver.NewMemoryDriver()
	c := newTestClient(t, failingEdges{mem}, employmentExtractor())

	_, err := c.AddEpisode(ctx, EpisodeInput{ID: "ep-1", GroupID: group, Content: engineerText})
	require.Error(t, err)
	assert.True(t, errkind.Is(errkind.Storage, err))
	assert.ErrorContains(t, err, "disk full")

	nodes, err := mem.ListNodes(ctx, driver.NodeQuery{})
	require.NoError(t, err)
	assert.Empty(t, nodes)
	_, err = mem.GetEpisode(ctx, "ep-1")
	assert.True(t, errkind.Is(errkind.NotFound, err))
}

func TestAddEpisodeRestoresMergedNodesOnFailure(t *testing.T) {
	ctx := context.Background()
	mem := driver.NewMemoryDriver()
	ok := newTestClient(t, mem, scripted{
		"Alice works at Acme.": func() *types.ExtractionResult {
			return &types.ExtractionResult{Entities: []types.CandidateEntity{{Name: "Alice", Summary: "engineer"}}}
		},
	})
	ingest(t, ok, "ep-1", "Alice works at Acme.", day(1))

	failing := newTestClient(t, failingEdges{mem}, scripted{
		"Alice knows Bob.": func() *types.ExtractionResult {
			return &types.ExtractionResult{
				Entities: []types.CandidateEntity{{Name: "Alice", Summary: "engineer and team lead"}, {Name: "Bob"}},
				Edges:    []types.CandidateEdge{{SourceName: "Alice", TargetName: "Bob", Label: "knows"}},
			}
		},
	})
	_, err := failing.AddEpisode(ctx, EpisodeInput{GroupID: group, Content: "Alice knows Bob.", OccurredAt: ptr(day(2))})
	require.Error(t, err)

	nodes, err := mem.ListNodes(ctx, driver.NodeQuery{GroupIDs: []string{group}})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Alice", nodes[0].Name)
	assert.Equal(t, "engineer", nodes[0].Summary)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func (failingEmbedder) EmbedSingle(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func (failingEmbedder) Dimensions() int { return 3 }
func (failingEmbedder) Close() error    { return nil }

func TestAddEpisodeEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	c, err := NewClient(Options{Driver: store, Extractor: employmentExtractor(), Embedder: failingEmbedder{}, Config: testConfig()})
	require.NoError(t, err)

	_, err = c.AddEpisode(ctx, EpisodeInput{ID: "ep-1", GroupID: group, Content: engineerText})
	assert.True(t, errkind.Is(errkind.Embedding, err))
	_, err = store.GetEpisode(ctx, "ep-1")
	assert.True(t, errkind.Is(errkind.NotFound, err))
}

func TestConcurrentEpisodesShareEntities(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryDriver()
	ex := extractor.Func(func(context.Context, extractor.Request) (*types.ExtractionResult, error) {
		return &types.ExtractionResult{
			Entities: []types.CandidateEntity{{Name: "Bob"}, {Name: "Carol"}},
			Edges:    []types.CandidateEdge{{SourceName: "Bob", TargetName: "Carol", Label: "knows", Fact: "Bob knows Carol"}},
		}, nil
	})
	c := newTestClient(t, store, ex)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.AddEpisode(ctx, EpisodeInput{GroupID: group, Content: fmt.Sprintf("message %d", i), OccurredAt: ptr(day(3))})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	nodes, err := store.ListNodes(ctx, driver.NodeQuery{GroupIDs: []string{group}})
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	edges, err := store.ListEdges(ctx, driver.EdgeQuery{GroupIDs: []string{group}})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Len(t, edges[0].Episodes, 10)
}

// rendezvousNodes holds the first two ListNodes calls until both arrive or
// the wait expires, so that unserialized resolutions read the same snapshot.
type rendezvousNodes struct {
	*driver.MemoryDriver
	mu    sync.Mutex
	calls int
	both  chan struct{}
}

func (r *rendezvousNodes) ListNodes(ctx context.Context, q driver.NodeQuery) ([]*types.EntityNode, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()
	if n == 2 {
		close(r.both)
	}
	if n <= 2 {
		select {
		case <-r.both:
		case <-time.After(200 * time.Millisecond):
		}
	}
	return r.MemoryDriver.ListNodes(ctx, q)
}

func TestConcurrentEpisodesMergeAcronyms(t *testing.T) {
	ctx := context.Background()
	mem := driver.NewMemoryDriver()
	store := &rendezvousNodes{MemoryDriver: mem, both: make(chan struct{})}
	c := newTestClient(t, store, scripted{
		"Bob works at IBM.":                               worksAt("Bob", "IBM", "Bob works at IBM"),
		"Carol works at International Business Machines.": worksAt("Carol", "International Business Machines", "Carol works at International Business Machines"),
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, content := range []string{"Bob works at IBM.", "Carol works at International Business Machines."} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.AddEpisode(ctx, EpisodeInput{GroupID: group, Content: content, OccurredAt: ptr(day(4))})
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	nodes, err := mem.ListNodes(ctx, driver.NodeQuery{GroupIDs: []string{group}})
	require.NoError(t, err)
	assert.Len(t, nodes, 3)

	edges, err := mem.ListEdges(ctx, driver.EdgeQuery{GroupIDs: []string{group}})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, edges[0].TargetID, edges[1].TargetID)
}

// flakyReads fails the first ListNodes and the first ListEdges call with a
// transient storage error.
type flakyReads struct {
	*driver.MemoryDriver
	nodeCalls, edgeCalls atomic.Int32
}

func (f *flakyReads) ListNodes(ctx context.Context, q driver.NodeQuery) ([]*types.EntityNode, error) {
	if f.nodeCalls.Add(1) == 1 {
		return nil, errkind.Ef(errkind.Storage, "flaky.ListNodes", "connection reset")
	}
	return f.MemoryDriver.ListNodes(ctx, q)
}

func (f *flakyReads) ListEdges(ctx context.Context, q driver.EdgeQuery) ([]*types.EntityEdge, error) {
	if f.edgeCalls.Add(1) == 1 {
		return nil, errkind.Ef(errkind.Storage, "flaky.ListEdges", "connection reset")
	}
	return f.MemoryDriver.ListEdges(ctx, q)
}

func TestStorageReadsAreRetried(t *testing.T) {
	ctx := context.Background()
	store := &flakyReads{MemoryDriver: driver.NewMemoryDriver()}
	cfg := testConfig()
	cfg.Concurrency.Storage.MaxRetries = 3
	cfg.Concurrency.Storage.InitialDelay = time.Millisecond
	cfg.Concurrency.Storage.MaxDelay = time.Millisecond
	c, err := NewClient(Options{Driver: store, Extractor: employmentExtractor(), Config: cfg})
	require.NoError(t, err)

	res, err := c.AddEpisode(ctx, EpisodeInput{ID: "ep-1", GroupID: group, Content: engineerText, OccurredAt: ptr(day(1))})
	require.NoError(t, err)
	require.Len(t, res.Edges, 1)
	assert.GreaterOrEqual(t, store.nodeCalls.Load(), int32(2))
	assert.GreaterOrEqual(t, store.edgeCalls.Load(), int32(2))

	stats, err := c.Stats(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.NodeCount)
}

func TestStorageReadsFailWithoutRetries(t *testing.T) {
	store := &flakyReads{MemoryDriver: driver.NewMemoryDriver()}
	c := newTestClient(t, store, employmentExtractor())

	_, err := c.AddEpisode(context.Background(), EpisodeInput{ID: "ep-1", GroupID: group, Content: engineerText})
	require.Error(t, err)
	assert.Equal(t, int32(1), store.nodeCalls.Load())
}

func TestAddEpisodeBulk(t *testing.T) {
	c := newTestClient(t, driver.NewMemoryDriver(), employmentExtractor())

	results, err := c.AddEpisodeBulk(context.Background(), []EpisodeInput{
		{GroupID: group, Content: engineerText, OccurredAt: ptr(day(1))},
		{GroupID: group, Content: ""},
		{GroupID: "other", Content: managerText, OccurredAt: ptr(day(10))},
	})
	require.Error(t, err)
	assert.True(t, errkind.Is(errkind.Invalid, err))
	require.Len(t, results, 3)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])
	assert.NotNil(t, results[2])
	// Different groups never interact.
	assert.Empty(t, results[2].InvalidatedEdges)
}

func TestSearchAsOf(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, driver.NewMemoryDriver(), employmentExtractor())
	ingest(t, c, "ep-1", engineerText, day(1))
	ingest(t, c, "ep-2", managerText, day(10))

	at := day(5)
	res, err := c.Search(ctx, types.SearchQuery{Query: "Alice Acme", GroupIDs: []string{group}, AsOf: &at})
	require.NoError(t, err)
	// No embedder: the semantic strategy is unavailable.
	assert.True(t, res.Degraded)

	edges := res.Edges()
	require.NotEmpty(t, edges)
	for _, e := range edges {
		assert.True(t, e.ValidAsOf(at), e.Fact)
		assert.NotContains(t, e.Fact, "manager")
	}

	text, err := c.SearchContext(ctx, types.SearchQuery{Query: "Alice Acme", GroupIDs: []string{group}})
	require.NoError(t, err)
	assert.True(t, strings.Contains(text, "FACTS"))
}

func TestEdgesBetweenValidation(t *testing.T) {
	c := newTestClient(t, driver.NewMemoryDriver(), scripted{})
	_, err := c.EdgesBetween(context.Background(), "", "a", "b", nil)
	assert.True(t, errkind.Is(errkind.Invalid, err))
	_, err = c.FactsAsOf(context.Background(), group, "", day(1))
	assert.True(t, errkind.Is(errkind.Invalid, err))
}

func ptr[T any](v T) *T { return &v }

func TestListEpisodes(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, driver.NewMemoryDriver(), employmentExtractor())
	for i := 1; i <= 12; i++ {
		ingest(t, c, fmt.Sprintf("ep-%02d", i), fmt.Sprintf("note %d", i), day(i))
	}

	eps, err := c.ListEpisodes(ctx, group, nil, 0)
	require.NoError(t, err)
	require.Len(t, eps, DefaultEpisodeLimit)
	assert.Equal(t, "ep-12", eps[0].ID)

	eps, err = c.ListEpisodes(ctx, group, ptr(day(3)), 5)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, []string{"ep-02", "ep-01"}, []string{eps[0].ID, eps[1].ID})

	_, err = c.ListEpisodes(ctx, "", nil, 0)
	assert.True(t, errkind.Is(errkind.Invalid, err))
}
