package driver

import (
	"context"
	"sync"

	"github.com/soundprediction/chronograph/pkg/types"
)

// MemoryDriver keeps the graph in process memory. It is the default backend
// for tests and embedded use. Values are cloned on the way in and out so
// callers never share state with the store.
type MemoryDriver struct {
	mu       sync.RWMutex
	episodes map[string]*types.EpisodicNode
	nodes    map[string]*types.EntityNode
	edges    map[string]*types.EntityEdge
}

// NewMemoryDriver creates an empty in-memory graph.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		episodes: make(map[string]*types.EpisodicNode),
		nodes:    make(map[string]*types.EntityNode),
		edges:    make(map[string]*types.EntityEdge),
	}
}

func (m *MemoryDriver) Provider() types.GraphProvider { return types.GraphProviderMemory }

func (m *MemoryDriver) Close() error { return nil }

func (m *MemoryDriver) CreateEpisode(ctx context.Context, episode *types.EpisodicNode) error {
	if err := episode.Validate(); err != nil {
		return invalid("memory.CreateEpisode", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *episode
	m.episodes[episode.ID] = &cp
	return nil
}

func (m *MemoryDriver) GetEpisode(ctx context.Context, id string) (*types.EpisodicNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.episodes[id]
	if !ok {
		return nil, notFound("memory.GetEpisode", "episode", id)
	}
	cp := *ep
	return &cp, nil
}

func (m *MemoryDriver) ListEpisodes(ctx context.Context, q EpisodeQuery) ([]*types.EpisodicNode, error) {
	m.mu.RLock()
	var out []*types.EpisodicNode
	for _, ep := range m.episodes {
		if q.Matches(ep) {
			cp := *ep
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sortEpisodes(out)
	return truncate(out, q.Limit), nil
}

func (m *MemoryDriver) DeleteEpisode(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.episodes, id)
	return nil
}

func (m *MemoryDriver) CreateNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return invalid("memory.CreateNode", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.ID] = node.Clone()
	return nil
}

func (m *MemoryDriver) UpdateNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return invalid("memory.UpdateNode", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[node.ID]; !ok {
		return notFound("memory.UpdateNode", "node", node.ID)
	}
	m.nodes[node.ID] = node.Clone()
	return nil
}

func (m *MemoryDriver) GetNode(ctx context.Context, id string) (*types.EntityNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, notFound("memory.GetNode", "node", id)
	}
	return n.Clone(), nil
}

func (m *MemoryDriver) ListNodes(ctx context.Context, q NodeQuery) ([]*types.EntityNode, error) {
	m.mu.RLock()
	var out []*types.EntityNode
	for _, n := range m.nodes {
		if q.Matches(n) {
			out = append(out, n.Clone())
		}
	}
	m.mu.RUnlock()
	sortNodes(out)
	return truncate(out, q.Limit), nil
}

// DeleteNode removes the node and every edge attached to it.
func (m *MemoryDriver) DeleteNode(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	for eid, e := range m.edges {
		if e.SourceID == id || e.TargetID == id {
			delete(m.edges, eid)
		}
	}
	return nil
}

func (m *MemoryDriver) CreateEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return invalid("memory.CreateEdge", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodes[edge.SourceID] == nil || m.nodes[edge.TargetID] == nil {
		return missingEndpoint("memory.CreateEdge", edge)
	}
	m.edges[edge.ID] = edge.Clone()
	return nil
}

func (m *MemoryDriver) UpdateEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return invalid("memory.UpdateEdge", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.edges[edge.ID]; !ok {
		return notFound("memory.UpdateEdge", "edge", edge.ID)
	}
	m.edges[edge.ID] = edge.Clone()
	return nil
}

func (m *MemoryDriver) GetEdge(ctx context.Context, id string) (*types.EntityEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return nil, notFound("memory.GetEdge", "edge", id)
	}
	return e.Clone(), nil
}

func (m *MemoryDriver) ListEdges(ctx context.Context, q EdgeQuery) ([]*types.EntityEdge, error) {
	m.mu.RLock()
	var out []*types.EntityEdge
	for _, e := range m.edges {
		if q.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	m.mu.RUnlock()
	sortEdges(out)
	return truncate(out, q.Limit), nil
}

func (m *MemoryDriver) DeleteEdge(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edges, id)
	return nil
}

func (m *MemoryDriver) SearchNodes(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityNode, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	filter := NodeQuery{GroupIDs: options.groupIDs()}

	m.mu.RLock()
	var out []*types.EntityNode
	for _, n := range m.nodes {
		if filter.Matches(n) && nodeTextMatches(n, tokens) {
			out = append(out, n.Clone())
		}
	}
	m.mu.RUnlock()
	sortNodes(out)
	return truncate(out, options.limit()), nil
}

func (m *MemoryDriver) SearchEdges(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityEdge, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	filter := EdgeQuery{GroupIDs: options.groupIDs(), AsOf: options.asOf()}

	m.mu.RLock()
	var out []*types.EntityEdge
	for _, e := range m.edges {
		if filter.Matches(e) && edgeTextMatches(e, tokens) {
			out = append(out, e.Clone())
		}
	}
	m.mu.RUnlock()
	sortEdges(out)
	return truncate(out, options.limit()), nil
}
