package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/crossencoder"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/telemetry"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// FusionMode selects how strategy rankings are combined.
type FusionMode string

const (
	// WeightedFusion sums min-max normalized strategy scores.
	WeightedFusion FusionMode = "weighted"
	// RRFFusion sums weighted reciprocal ranks.
	RRFFusion FusionMode = "rrf"
)

// Strategy names, as used in logs and span attributes.
const (
	StrategySemantic  = "semantic"
	StrategyLexical   = "lexical"
	StrategyTraversal = "traversal"
)

const (
	DefaultLimit          = 10
	DefaultCandidateLimit = 50
	DefaultMaxHops        = 2
	DefaultRankConstant   = 60
)

// Config holds retrieval settings.
type Config struct {
	// Limit is used when a query does not set one.
	Limit int
	// CandidateLimit is the top-K kept by each strategy before fusion.
	CandidateLimit int
	// MaxHops bounds the breadth-first traversal.
	MaxHops int
	Fusion  FusionMode
	// Weights is used when a query does not set its own.
	Weights types.StrategyWeights
	// RerankTopN is how many fused items the reranker sees; 0 means Limit.
	RerankTopN int
}

// ConfigFromSettings converts the search section of the configuration.
func ConfigFromSettings(c config.SearchConfig) Config {
	return Config{
		Limit:          c.Limit,
		CandidateLimit: c.CandidateLimit,
		MaxHops:        c.MaxHops,
		Fusion:         FusionMode(strings.ToLower(c.Fusion)),
		Weights: types.StrategyWeights{
			Semantic:  c.SemanticWeight,
			Lexical:   c.LexicalWeight,
			Traversal: c.TraversalWeight,
		},
		RerankTopN: c.RerankTopN,
	}
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = DefaultCandidateLimit
	}
	if c.MaxHops <= 0 {
		c.MaxHops = DefaultMaxHops
	}
	if c.Fusion != RRFFusion {
		c.Fusion = WeightedFusion
	}
	if c.Weights.Semantic+c.Weights.Lexical+c.Weights.Traversal <= 0 {
		c.Weights = types.EqualWeights()
	}
	return c
}

// Store is the part of the storage port the searcher reads.
type Store interface {
	ListNodes(ctx context.Context, q driver.NodeQuery) ([]*types.EntityNode, error)
	ListEdges(ctx context.Context, q driver.EdgeQuery) ([]*types.EntityEdge, error)
	driver.GraphSearcher
}

// HybridSearcher answers queries by fusing semantic, lexical and traversal
// rankings over the graph as of the query's point in time.
type HybridSearcher struct {
	store    Store
	embedder embedder.Client
	reranker crossencoder.Client
	config   Config
	logger   *slog.Logger
}

// NewHybridSearcher creates a searcher. A nil embedder makes every search
// degraded; a nil reranker ignores rerank requests.
func NewHybridSearcher(store Store, emb embedder.Client, reranker crossencoder.Client, cfg Config, logger *slog.Logger) *HybridSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridSearcher{
		store:    store,
		embedder: emb,
		reranker: reranker,
		config:   cfg.withDefaults(),
		logger:   logger,
	}
}

// Config returns the effective configuration.
func (s *HybridSearcher) Config() Config {
	return s.config
}

// strategyResult is the outcome of one strategy.
type strategyResult struct {
	name   string
	weight float64
	items  []candidate
	err    error
}

// candidate is a strategy hit with its raw strategy score.
type candidate struct {
	item  types.ResultItem
	score float64
}

func itemKey(it types.ResultItem) string {
	return string(it.Kind) + ":" + it.ID()
}

// Search runs the three strategies, fuses their rankings and optionally
// reranks the head of the fused list.
func (s *HybridSearcher) Search(ctx context.Context, q types.SearchQuery) (*types.SearchResults, error) {
	const op = "search.Search"

	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()

	if err := q.Validate(); err != nil {
		return nil, errkind.E(errkind.Invalid, op, err)
	}
	weights := s.config.Weights
	if q.Weights != nil {
		weights = *q.Weights
	}
	if weights.Semantic < 0 || weights.Lexical < 0 || weights.Traversal < 0 ||
		weights.Semantic+weights.Lexical+weights.Traversal <= 0 {
		return nil, errkind.Ef(errkind.Invalid, op, "strategy weights must be non-negative with a positive sum")
	}
	limit := q.Limit
	if limit == 0 {
		limit = s.config.Limit
	}
	span.SetAttributes(
		attribute.StringSlice("search.group_ids", q.GroupIDs),
		attribute.Int("search.limit", limit),
		attribute.Bool("search.as_of", q.AsOf != nil),
	)

	semantic := strategyResult{name: StrategySemantic, weight: weights.Semantic}
	lexical := strategyResult{name: StrategyLexical, weight: weights.Lexical}
	traversal := strategyResult{name: StrategyTraversal, weight: weights.Traversal}

	// Semantic and lexical hits also seed the traversal, so they run whenever
	// traversal is weighted. Failures are recorded per strategy.
	seeding := traversal.weight > 0
	var g errgroup.Group
	if semantic.weight > 0 || seeding {
		g.Go(func() error {
			semantic.items, semantic.err = s.semanticSearch(ctx, q)
			return nil
		})
	}
	if lexical.weight > 0 || seeding {
		g.Go(func() error {
			lexical.items, lexical.err = s.lexicalSearch(ctx, q)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if traversal.weight > 0 {
		seeds := seedNodeIDs(semantic.items, lexical.items)
		if len(seeds) == 0 && semantic.err != nil && lexical.err != nil {
			traversal.err = errors.New("no seed nodes")
		} else {
			traversal.items, traversal.err = s.traverse(ctx, q, seeds)
		}
	}

	results := []strategyResult{semantic, lexical, traversal}
	var ok []strategyResult
	var failures []error
	degraded := false
	for _, r := range results {
		if r.weight <= 0 {
			continue
		}
		if r.err != nil {
			degraded = true
			failures = append(failures, fmt.Errorf("%s: %w", r.name, r.err))
			s.logger.WarnContext(ctx, "search strategy failed", "strategy", r.name, "error", r.err)
			span.SetAttributes(attribute.String("search."+r.name+".error", r.err.Error()))
			continue
		}
		ok = append(ok, r)
	}
	if len(ok) == 0 {
		err := errkind.E(errkind.SearchUnavailable, op, errors.Join(failures...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "all strategies failed")
		return nil, err
	}

	var fused []types.ResultItem
	if s.config.Fusion == RRFFusion {
		fused = fuseRRF(ok, DefaultRankConstant)
	} else {
		fused = fuseWeighted(ok)
	}

	out := &types.SearchResults{Query: q.Query, Degraded: degraded}
	if q.Rerank && s.reranker != nil && len(fused) > 0 {
		topN := s.config.RerankTopN
		if topN <= 0 {
			topN = limit
		}
		reranked, err := s.rerank(ctx, q.Query, fused, topN)
		if err != nil {
			s.logger.WarnContext(ctx, "rerank failed, keeping fused order", "error", err)
		} else {
			fused = reranked
			out.Reranked = true
		}
	}

	if len(fused) > limit {
		fused = fused[:limit]
	}
	out.Items = fused
	span.SetAttributes(attribute.Int("search.results", len(fused)), attribute.Bool("search.degraded", degraded))
	return out, nil
}

// semanticSearch ranks edges by fact embedding and nodes by name embedding.
func (s *HybridSearcher) semanticSearch(ctx context.Context, q types.SearchQuery) ([]candidate, error) {
	if s.embedder == nil {
		return nil, errkind.Ef(errkind.Embedding, "search.semantic", "no embedder configured")
	}
	vec, err := s.embedder.EmbedSingle(ctx, q.Query)
	if err != nil {
		return nil, errkind.Wrap(errkind.Embedding, "search.semantic", err)
	}

	edges, err := s.store.ListEdges(ctx, driver.EdgeQuery{GroupIDs: q.GroupIDs, AsOf: q.AsOf})
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.ListNodes(ctx, driver.NodeQuery{GroupIDs: q.GroupIDs})
	if err != nil {
		return nil, err
	}

	scored := make([]utils.ScoredItem[types.ResultItem], 0, len(edges)+len(nodes))
	for _, e := range edges {
		if len(e.FactEmbedding) != len(vec) {
			continue
		}
		if sim := utils.CosineSimilarity(vec, e.FactEmbedding); sim > 0 {
			scored = append(scored, utils.ScoredItem[types.ResultItem]{Item: types.ResultItem{Kind: types.EdgeResult, Edge: e}, Score: sim})
		}
	}
	for _, n := range nodes {
		if len(n.NameEmbedding) != len(vec) {
			continue
		}
		if sim := utils.CosineSimilarity(vec, n.NameEmbedding); sim > 0 {
			scored = append(scored, utils.ScoredItem[types.ResultItem]{Item: types.ResultItem{Kind: types.NodeResult, Node: n}, Score: sim})
		}
	}
	return toCandidates(utils.TopKByScore(scored, s.config.CandidateLimit)), nil
}

// lexicalSearch ranks the backend's text hits with BM25.
func (s *HybridSearcher) lexicalSearch(ctx context.Context, q types.SearchQuery) ([]candidate, error) {
	opts := &driver.SearchOptions{GroupIDs: q.GroupIDs, AsOf: q.AsOf}
	edges, err := s.store.SearchEdges(ctx, q.Query, opts)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.SearchNodes(ctx, q.Query, opts)
	if err != nil {
		return nil, err
	}

	items := make([]types.ResultItem, 0, len(edges)+len(nodes))
	docs := make([][]string, 0, len(edges)+len(nodes))
	for _, e := range edges {
		// Storage filters by AsOf already; checked again so a backend bug cannot leak history.
		if q.AsOf != nil && !e.ValidAsOf(*q.AsOf) {
			continue
		}
		items = append(items, types.ResultItem{Kind: types.EdgeResult, Edge: e})
		docs = append(docs, utils.Tokenize(e.Fact))
	}
	for _, n := range nodes {
		items = append(items, types.ResultItem{Kind: types.NodeResult, Node: n})
		docs = append(docs, utils.Tokenize(n.Name+" "+n.Summary))
	}

	scores := BM25Scores(utils.Tokenize(q.Query), docs)
	scored := make([]utils.ScoredItem[types.ResultItem], 0, len(items))
	for i, it := range items {
		if scores[i] > 0 {
			scored = append(scored, utils.ScoredItem[types.ResultItem]{Item: it, Score: scores[i]})
		}
	}
	return toCandidates(utils.TopKByScore(scored, s.config.CandidateLimit)), nil
}

func toCandidates(scored []utils.ScoredItem[types.ResultItem]) []candidate {
	out := make([]candidate, len(scored))
	for i, sc := range scored {
		out[i] = candidate{item: sc.Item, score: sc.Score}
	}
	return out
}

// seedNodeIDs collects matched nodes and the endpoints of matched edges.
func seedNodeIDs(lists ...[]candidate) []string {
	seen := map[string]struct{}{}
	for _, list := range lists {
		for _, c := range list {
			switch c.item.Kind {
			case types.NodeResult:
				seen[c.item.Node.ID] = struct{}{}
			case types.EdgeResult:
				seen[c.item.Edge.SourceID] = struct{}{}
				seen[c.item.Edge.TargetID] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
