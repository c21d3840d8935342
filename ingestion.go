package chronograph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/extractor"
	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/telemetry"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
	"github.com/soundprediction/chronograph/pkg/utils/maintenance"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// EpisodeInput is one episode to ingest.
type EpisodeInput struct {
	// ID is optional; a UUIDv7 is generated when empty.
	ID                string
	Name              string
	Content           string
	GroupID           string
	Source            types.EpisodeType
	SourceDescription string
	// OccurredAt is when the described event happened; now when nil. It is
	// the default valid_at of extracted facts.
	OccurredAt *time.Time
	// Payload is optional structured data. JSON episodes without a payload
	// have their content decoded into it.
	Payload map[string]any
	// PreviousEpisodeIDs are earlier episodes shown to the extractor to
	// resolve references.
	PreviousEpisodeIDs []string
}

func (c *Client) buildEpisode(in EpisodeInput) (*types.EpisodicNode, error) {
	const op = "chronograph.AddEpisode"
	if strings.TrimSpace(in.Content) == "" {
		return nil, errkind.E(errkind.Invalid, op, types.ErrEmptyContent)
	}
	if strings.TrimSpace(in.GroupID) == "" {
		return nil, errkind.E(errkind.Invalid, op, types.ErrEmptyGroupID)
	}

	source := in.Source
	if source == "" {
		source = types.TextEpisodeType
	}
	payload := in.Payload
	if source == types.JSONEpisodeType && payload == nil {
		if err := json.Unmarshal([]byte(in.Content), &payload); err != nil {
			return nil, errkind.E(errkind.Invalid, op, fmt.Errorf("json episode content is not an object: %w", err))
		}
	}

	id := in.ID
	if id == "" {
		id = utils.GenerateUUID()
	}
	validAt := c.now()
	if in.OccurredAt != nil && !in.OccurredAt.IsZero() {
		validAt = in.OccurredAt.UTC()
	}
	name := in.Name
	if name == "" {
		name = fmt.Sprintf("episode %s", validAt.Format(time.RFC3339))
	}

	return &types.EpisodicNode{
		ID:                id,
		GroupID:           in.GroupID,
		Name:              name,
		Content:           in.Content,
		Source:            source,
		SourceDescription: in.SourceDescription,
		Payload:           payload,
		ValidAt:           validAt,
		CreatedAt:         c.clock.Now(in.GroupID),
	}, nil
}

// AddEpisode ingests one episode: it is stored, its entities and facts are
// extracted and embedded, entities are merged into the group's existing
// nodes and facts are reconciled with the stored edges by validity time.
//
// Either every write of the episode persists or none does: on any failure
// the writes made so far are undone before the error is returned.
func (c *Client) AddEpisode(ctx context.Context, in EpisodeInput) (res *types.AddEpisodeResult, err error) {
	const op = "chronograph.AddEpisode"

	ctx, span := telemetry.Tracer().Start(ctx, op)
	defer span.End()

	episode, err := c.buildEpisode(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("episode.id", episode.ID),
		attribute.String("episode.group_id", episode.GroupID),
		attribute.String("episode.source", string(episode.Source)),
	)
	ctx = context.WithValue(ctx, types.ContextKeyGroupID, episode.GroupID)
	if ctx.Value(types.ContextKeyIngestionSource) == nil {
		ctx = context.WithValue(ctx, types.ContextKeyIngestionSource, "episode:"+episode.ID)
	}
	logger := c.logger.With("episode_id", episode.ID, "group_id", episode.GroupID)

	j := newJournal(c.driver, c.gates.Storage, logger)
	// Locks are held until the episode is committed or rolled back.
	var release []func()
	defer func() {
		defer func() {
			for i := len(release) - 1; i >= 0; i-- {
				release[i]()
			}
		}()
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingestion failed")
		if j.len() > 0 {
			if rbErr := j.rollback(context.WithoutCancel(ctx)); rbErr != nil {
				err = fmt.Errorf("%w (rollback incomplete: %v)", err, rbErr)
			}
		}
		attrs := []any{"episode_id", episode.ID, "group_id", episode.GroupID}
		var ke *errkind.Error
		if errors.As(err, &ke) {
			attrs = append(attrs, ke.LogAttrs()...)
		} else {
			attrs = append(attrs, "error", err)
		}
		logger.Error("episode ingestion failed", attrs...)
	}()

	if err = j.createEpisode(ctx, episode); err != nil {
		return nil, errkind.Wrap(errkind.Storage, op, err)
	}

	req, err := c.extractionRequest(ctx, episode, in.PreviousEpisodeIDs)
	if err != nil {
		return nil, err
	}
	extraction, err := c.extract(ctx, req)
	if err != nil {
		return nil, errkind.Wrap(errkind.Extraction, op, err)
	}
	logger.Debug("extracted episode", "entities", len(extraction.Entities), "edges", len(extraction.Edges))

	createdAt := episode.CreatedAt
	candidates := maintenance.CandidateNodes(episode.GroupID, extraction.Entities, createdAt)
	facts, err := c.embedCandidates(ctx, candidates, extraction.Edges)
	if err != nil {
		return nil, errkind.Wrap(errkind.Embedding, op, err)
	}

	if err = c.locks.Lock(ctx, maintenance.NodeLockKey(episode.GroupID)); err != nil {
		return nil, err
	}
	release = append(release, func() { c.locks.Unlock(maintenance.NodeLockKey(episode.GroupID)) })

	nodes, err := c.nodeOps.ResolveExtractedNodes(ctx, episode.GroupID, candidates, createdAt)
	if err != nil {
		return nil, err
	}
	edges, err := maintenance.BuildCandidateEdges(episode, extraction.Edges, nodes, createdAt)
	if err != nil {
		return nil, err
	}
	for i, e := range edges {
		e.FactEmbedding = facts[i]
	}

	unlockEdges, err := c.locks.LockAll(ctx, maintenance.EdgeLockKeys(edges))
	if err != nil {
		return nil, err
	}
	release = append(release, unlockEdges)

	resolved, err := c.edgeOps.ResolveExtractedEdges(ctx, edges, nodes.NodeSet())
	if err != nil {
		return nil, err
	}

	if err = c.commit(ctx, j, nodes, resolved); err != nil {
		return nil, errkind.Wrap(errkind.Storage, op, err)
	}

	res = &types.AddEpisodeResult{
		Episode:          episode,
		Nodes:            nodes.Nodes,
		Edges:            resolved.New,
		InvalidatedEdges: resolved.Invalidated,
		ConfirmedEdges:   resolved.Confirmed,
	}
	span.SetAttributes(
		attribute.Int("episode.nodes", len(res.Nodes)),
		attribute.Int("episode.edges", len(res.Edges)),
		attribute.Int("episode.invalidated", len(res.InvalidatedEdges)),
	)
	logger.Info("episode committed",
		"nodes_created", len(nodes.Created),
		"nodes_merged", len(nodes.Merged),
		"edges_new", len(resolved.New),
		"edges_invalidated", len(resolved.Invalidated),
		"edges_confirmed", len(resolved.Confirmed))
	return res, nil
}

// extractionRequest gathers the context the extractor sees: previous
// episodes named by the caller and the group's entities most relevant to the
// episode text.
func (c *Client) extractionRequest(ctx context.Context, episode *types.EpisodicNode, previousIDs []string) (extractor.Request, error) {
	req := extractor.Request{Episode: episode}

	for _, id := range previousIDs {
		prev, err := c.store.GetEpisode(ctx, id)
		if err != nil {
			if errkind.Is(errkind.NotFound, err) {
				c.logger.Warn("previous episode not found", "episode_id", episode.ID, "previous_id", id)
				continue
			}
			return req, errkind.Wrap(errkind.Storage, "chronograph.previousEpisodes", err)
		}
		if prev.GroupID == episode.GroupID {
			req.PreviousEpisodes = append(req.PreviousEpisodes, prev)
		}
	}

	limit := c.config.Ingestion.ContextEntities
	if limit <= 0 {
		return req, nil
	}
	hits, err := c.store.SearchNodes(ctx, episode.Content, &driver.SearchOptions{GroupIDs: []string{episode.GroupID}})
	if err != nil {
		return req, errkind.Wrap(errkind.Storage, "chronograph.contextEntities", err)
	}
	req.ContextEntities = rankContextEntities(episode.Content, hits, limit)
	return req, nil
}

// rankContextEntities keeps the limit entities whose name and summary best
// match text under BM25.
func rankContextEntities(text string, nodes []*types.EntityNode, limit int) []*types.EntityNode {
	if len(nodes) == 0 {
		return nil
	}
	docs := make([][]string, len(nodes))
	for i, n := range nodes {
		docs[i] = utils.Tokenize(n.Name + " " + n.Summary)
	}
	scores := search.BM25Scores(utils.Tokenize(text), docs)
	scored := make([]utils.ScoredItem[*types.EntityNode], len(nodes))
	for i, n := range nodes {
		scored[i] = utils.ScoredItem[*types.EntityNode]{Item: n, Score: scores[i]}
	}
	top := utils.TopKByScore(scored, limit)
	out := make([]*types.EntityNode, len(top))
	for i, s := range top {
		out[i] = s.Item
	}
	return out
}

// extract runs the extractor, once per chunk for long text episodes, and
// merges the results.
func (c *Client) extract(ctx context.Context, req extractor.Request) (*types.ExtractionResult, error) {
	chunks := []string{req.Episode.Content}
	if req.Episode.Source != types.JSONEpisodeType {
		chunks = chunkText(req.Episode.Content, c.config.Ingestion.ChunkSize)
	}
	if len(chunks) == 1 {
		out, err := c.extractor.Extract(ctx, req)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = &types.ExtractionResult{}
		}
		out.Normalize()
		return out, nil
	}

	c.logger.Debug("extracting chunked episode", "episode_id", req.Episode.ID, "chunks", len(chunks))
	parts := make([]*types.ExtractionResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() (err error) {
			defer utils.RecoverAsError(&err)
			ep := *req.Episode
			ep.Content = chunk
			r := req
			r.Episode = &ep
			parts[i], err = c.extractor.Extract(gctx, r)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &types.ExtractionResult{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		merged.Entities = append(merged.Entities, p.Entities...)
		merged.Edges = append(merged.Edges, p.Edges...)
	}
	merged.Normalize()
	return merged, nil
}

// embedCandidates embeds entity names and edge facts in one batch. Node
// vectors are set in place; fact vectors are returned in edge order. Without
// an embedder nothing is embedded.
func (c *Client) embedCandidates(ctx context.Context, nodes []*types.EntityNode, edges []types.CandidateEdge) ([][]float32, error) {
	facts := make([][]float32, len(edges))
	if c.embedder == nil || len(nodes)+len(edges) == 0 {
		return facts, nil
	}
	texts := make([]string, 0, len(nodes)+len(edges))
	for _, n := range nodes {
		texts = append(texts, n.Name)
	}
	for _, e := range edges {
		texts = append(texts, e.Fact)
	}
	vecs, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, errkind.Ef(errkind.Embedding, "chronograph.embed", "embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, n := range nodes {
		n.NameEmbedding = vecs[i]
	}
	copy(facts, vecs[len(nodes):])
	return facts, nil
}

// commit writes the resolved episode through the journal: nodes first, so
// new edges always find their endpoints.
func (c *Client) commit(ctx context.Context, j *journal, nodes *maintenance.NodeResolution, edges *maintenance.EdgeResolution) error {
	for _, n := range nodes.Created {
		if err := j.createNode(ctx, n); err != nil {
			return err
		}
	}
	for _, n := range nodes.Merged {
		if err := j.updateNode(ctx, n, nodes.Previous[n.ID]); err != nil {
			return err
		}
	}
	for _, e := range edges.New {
		if err := j.createEdge(ctx, e); err != nil {
			return err
		}
	}
	for _, group := range [][]*types.EntityEdge{edges.Invalidated, edges.Confirmed} {
		for _, e := range group {
			if err := j.updateEdge(ctx, e, edges.Previous[e.ID]); err != nil {
				return err
			}
		}
	}
	return nil
}

// EpisodeError is the failure of one episode of a bulk ingestion.
type EpisodeError struct {
	Index int
	Err   error
}

func (e *EpisodeError) Error() string { return fmt.Sprintf("episode %d: %v", e.Index, e.Err) }

func (e *EpisodeError) Unwrap() error { return e.Err }

// AddEpisodeBulk ingests episodes concurrently, at most the extraction
// gate's limit at a time. Each episode is all-or-nothing on its own:
// results[i] is nil when episode i failed, and the failures are returned
// joined as *EpisodeError values.
func (c *Client) AddEpisodeBulk(ctx context.Context, inputs []EpisodeInput) ([]*types.AddEpisodeResult, error) {
	results := make([]*types.AddEpisodeResult, len(inputs))
	errs := make([]error, len(inputs))

	var g errgroup.Group
	g.SetLimit(c.gates.Extraction.Limit())
	for i, in := range inputs {
		g.Go(func() error {
			defer utils.RecoverAsError(&errs[i])
			res, err := c.AddEpisode(ctx, in)
			if err != nil {
				errs[i] = &EpisodeError{Index: i, Err: err}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	c.logger.Info("bulk ingestion finished", "episodes", len(inputs), "failed", failed)
	return results, errors.Join(errs...)
}
