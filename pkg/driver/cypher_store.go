package driver

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/types"
)

// cypherRunner executes one statement and returns its rows keyed by column.
type cypherRunner interface {
	read(ctx context.Context, stmt cypherStmt) ([]map[string]any, error)
	write(ctx context.Context, stmt cypherStmt) ([]map[string]any, error)
}

// cypherStore implements the storage port on top of any Cypher backend.
type cypherStore struct {
	name   string
	runner cypherRunner
}

func (c *cypherStore) op(name string) string { return c.name + "." + name }

func (c *cypherStore) CreateEpisode(ctx context.Context, episode *types.EpisodicNode) error {
	if err := episode.Validate(); err != nil {
		return invalid(c.op("CreateEpisode"), err)
	}
	if _, err := c.runner.write(ctx, upsertEpisodeCypher(episode)); err != nil {
		return storageErr(c.op("CreateEpisode"), err)
	}
	return nil
}

func (c *cypherStore) GetEpisode(ctx context.Context, id string) (*types.EpisodicNode, error) {
	rows, err := c.runner.read(ctx, getEpisodeCypher(id))
	if err != nil {
		return nil, storageErr(c.op("GetEpisode"), err)
	}
	if len(rows) == 0 {
		return nil, notFound(c.op("GetEpisode"), "episode", id)
	}
	ep, err := decodeEpisode(rows[0])
	if err != nil {
		return nil, storageErr(c.op("GetEpisode"), err)
	}
	return ep, nil
}

func (c *cypherStore) ListEpisodes(ctx context.Context, q EpisodeQuery) ([]*types.EpisodicNode, error) {
	rows, err := c.runner.read(ctx, listEpisodesCypher(q))
	if err != nil {
		return nil, storageErr(c.op("ListEpisodes"), err)
	}
	out := make([]*types.EpisodicNode, 0, len(rows))
	for _, r := range rows {
		ep, err := decodeEpisode(r)
		if err != nil {
			return nil, storageErr(c.op("ListEpisodes"), err)
		}
		out = append(out, ep)
	}
	return out, nil
}

func (c *cypherStore) DeleteEpisode(ctx context.Context, id string) error {
	if _, err := c.runner.write(ctx, deleteEpisodeCypher(id)); err != nil {
		return storageErr(c.op("DeleteEpisode"), err)
	}
	return nil
}

func (c *cypherStore) CreateNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return invalid(c.op("CreateNode"), err)
	}
	if _, err := c.runner.write(ctx, upsertNodeCypher(node)); err != nil {
		return storageErr(c.op("CreateNode"), err)
	}
	return nil
}

func (c *cypherStore) UpdateNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return invalid(c.op("UpdateNode"), err)
	}
	rows, err := c.runner.write(ctx, updateNodeCypher(node))
	if err != nil {
		return storageErr(c.op("UpdateNode"), err)
	}
	if len(rows) == 0 {
		return notFound(c.op("UpdateNode"), "node", node.ID)
	}
	return nil
}

func (c *cypherStore) GetNode(ctx context.Context, id string) (*types.EntityNode, error) {
	nodes, err := c.ListNodes(ctx, NodeQuery{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, notFound(c.op("GetNode"), "node", id)
	}
	return nodes[0], nil
}

func (c *cypherStore) decodeNodes(op string, rows []map[string]any) ([]*types.EntityNode, error) {
	out := make([]*types.EntityNode, 0, len(rows))
	for _, r := range rows {
		n, err := decodeNode(r)
		if err != nil {
			return nil, storageErr(c.op(op), err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (c *cypherStore) decodeEdges(op string, rows []map[string]any) ([]*types.EntityEdge, error) {
	out := make([]*types.EntityEdge, 0, len(rows))
	for _, r := range rows {
		e, err := decodeEdge(r)
		if err != nil {
			return nil, storageErr(c.op(op), err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *cypherStore) ListNodes(ctx context.Context, q NodeQuery) ([]*types.EntityNode, error) {
	rows, err := c.runner.read(ctx, listNodesCypher(q))
	if err != nil {
		return nil, storageErr(c.op("ListNodes"), err)
	}
	return c.decodeNodes("ListNodes", rows)
}

func (c *cypherStore) DeleteNode(ctx context.Context, id string) error {
	if _, err := c.runner.write(ctx, deleteNodeCypher(id)); err != nil {
		return storageErr(c.op("DeleteNode"), err)
	}
	return nil
}

func (c *cypherStore) CreateEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return invalid(c.op("CreateEdge"), err)
	}
	rows, err := c.runner.write(ctx, upsertEdgeCypher(edge))
	if err != nil {
		return storageErr(c.op("CreateEdge"), err)
	}
	if len(rows) == 0 {
		return missingEndpoint(c.op("CreateEdge"), edge)
	}
	return nil
}

func (c *cypherStore) UpdateEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return invalid(c.op("UpdateEdge"), err)
	}
	rows, err := c.runner.write(ctx, updateEdgeCypher(edge))
	if err != nil {
		return storageErr(c.op("UpdateEdge"), err)
	}
	if len(rows) == 0 {
		return notFound(c.op("UpdateEdge"), "edge", edge.ID)
	}
	return nil
}

func (c *cypherStore) GetEdge(ctx context.Context, id string) (*types.EntityEdge, error) {
	stmt := cypherStmt{
		query:  "MATCH ()-[r:RELATES_TO {uuid: $uuid}]->() RETURN " + returnColumns("r", edgeColumns),
		params: map[string]any{"uuid": id},
	}
	rows, err := c.runner.read(ctx, stmt)
	if err != nil {
		return nil, storageErr(c.op("GetEdge"), err)
	}
	if len(rows) == 0 {
		return nil, notFound(c.op("GetEdge"), "edge", id)
	}
	edges, err := c.decodeEdges("GetEdge", rows[:1])
	if err != nil {
		return nil, err
	}
	return edges[0], nil
}

func (c *cypherStore) ListEdges(ctx context.Context, q EdgeQuery) ([]*types.EntityEdge, error) {
	rows, err := c.runner.read(ctx, listEdgesCypher(q))
	if err != nil {
		return nil, storageErr(c.op("ListEdges"), err)
	}
	edges, err := c.decodeEdges("ListEdges", rows)
	if err != nil {
		return nil, err
	}
	if q.Label == "" {
		return edges, nil
	}
	filtered := edges[:0]
	for _, e := range edges {
		if q.Matches(e) {
			filtered = append(filtered, e)
		}
	}
	return truncate(filtered, q.Limit), nil
}

func (c *cypherStore) DeleteEdge(ctx context.Context, id string) error {
	if _, err := c.runner.write(ctx, deleteEdgeCypher(id)); err != nil {
		return storageErr(c.op("DeleteEdge"), err)
	}
	return nil
}

func (c *cypherStore) SearchNodes(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityNode, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	rows, err := c.runner.read(ctx, searchNodesCypher(tokens, options))
	if err != nil {
		return nil, storageErr(c.op("SearchNodes"), err)
	}
	return c.decodeNodes("SearchNodes", rows)
}

func (c *cypherStore) SearchEdges(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityEdge, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	rows, err := c.runner.read(ctx, searchEdgesCypher(tokens, options))
	if err != nil {
		return nil, storageErr(c.op("SearchEdges"), err)
	}
	return c.decodeEdges("SearchEdges", rows)
}
