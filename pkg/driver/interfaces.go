package driver

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/types"
)

// The storage port is split into small interfaces. GraphDriver composes them;
// callers should depend on the smallest one that covers their needs.

// GraphCore identifies a backend and releases its resources.
type GraphCore interface {
	// Provider returns the backend kind.
	Provider() types.GraphProvider

	// Close releases all resources held by the driver.
	Close() error
}

// EpisodeStore persists episodes. Episodes are immutable once written;
// DeleteEpisode exists only so a failed ingestion can be compensated.
type EpisodeStore interface {
	CreateEpisode(ctx context.Context, episode *types.EpisodicNode) error
	GetEpisode(ctx context.Context, id string) (*types.EpisodicNode, error)

	// ListEpisodes returns episodes matching q, most recent valid_at first.
	ListEpisodes(ctx context.Context, q EpisodeQuery) ([]*types.EpisodicNode, error)

	DeleteEpisode(ctx context.Context, id string) error
}

// NodeStore persists entity nodes.
type NodeStore interface {
	// CreateNode inserts the node or overwrites a node with the same ID.
	CreateNode(ctx context.Context, node *types.EntityNode) error

	// UpdateNode overwrites an existing node. A missing node is a NotFound error.
	UpdateNode(ctx context.Context, node *types.EntityNode) error

	GetNode(ctx context.Context, id string) (*types.EntityNode, error)

	// ListNodes returns nodes matching q ordered by creation time then ID.
	ListNodes(ctx context.Context, q NodeQuery) ([]*types.EntityNode, error)

	DeleteNode(ctx context.Context, id string) error
}

// EdgeStore persists entity edges.
type EdgeStore interface {
	// CreateEdge inserts the edge or overwrites an edge with the same ID.
	// Both endpoints must already exist.
	CreateEdge(ctx context.Context, edge *types.EntityEdge) error

	// UpdateEdge overwrites an existing edge. A missing edge is a NotFound error.
	UpdateEdge(ctx context.Context, edge *types.EntityEdge) error

	GetEdge(ctx context.Context, id string) (*types.EntityEdge, error)

	// ListEdges returns edges matching q ordered by creation time then ID.
	ListEdges(ctx context.Context, q EdgeQuery) ([]*types.EntityEdge, error)

	DeleteEdge(ctx context.Context, id string) error
}

// GraphSearcher provides the backend's native text matching. A hit is any
// node or edge whose text contains at least one query token, ignoring case.
// Ranking is left to the caller.
type GraphSearcher interface {
	SearchNodes(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityNode, error)
	SearchEdges(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityEdge, error)
}

// GraphDriver is the full storage port.
type GraphDriver interface {
	GraphCore
	EpisodeStore
	NodeStore
	EdgeStore
	GraphSearcher
}

// Compile-time checks.
var (
	_ GraphDriver = (*MemoryDriver)(nil)
	_ GraphDriver = (*BadgerDriver)(nil)
	_ GraphDriver = (*SQLiteDriver)(nil)
	_ GraphDriver = (*Neo4jDriver)(nil)
	_ GraphDriver = (*FalkorDriver)(nil)
)
