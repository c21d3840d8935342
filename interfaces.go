package chronograph

import (
	"context"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils/maintenance"
)

// Consumers should depend on the smallest of these interfaces that covers
// their needs; Engine is what the server and CLI take.

// EpisodeManager ingests and lists episodes.
type EpisodeManager interface {
	AddEpisode(ctx context.Context, in EpisodeInput) (*types.AddEpisodeResult, error)
	AddEpisodeBulk(ctx context.Context, inputs []EpisodeInput) ([]*types.AddEpisodeResult, error)
	GetEpisode(ctx context.Context, id string) (*types.EpisodicNode, error)
	ListEpisodes(ctx context.Context, groupID string, before *time.Time, limit int) ([]*types.EpisodicNode, error)
}

// GraphQuerier reads the graph.
type GraphQuerier interface {
	Search(ctx context.Context, q types.SearchQuery) (*types.SearchResults, error)
	GetNode(ctx context.Context, id string) (*types.EntityNode, error)
	GetEdge(ctx context.Context, id string) (*types.EntityEdge, error)
	EdgesBetween(ctx context.Context, groupID, nodeA, nodeB string, asOf *time.Time) ([]*types.EntityEdge, error)
	FactsAsOf(ctx context.Context, groupID, nodeID string, at time.Time) ([]*types.EntityEdge, error)
}

// GraphAdmin reports on the graph and releases resources.
type GraphAdmin interface {
	Stats(ctx context.Context, groupID string) (*maintenance.GraphStatistics, error)
	ValidateGraph(ctx context.Context, groupID string) ([]string, error)
	Close() error
}

// Engine is the full client surface.
type Engine interface {
	EpisodeManager
	GraphQuerier
	GraphAdmin
}

var _ Engine = (*Client)(nil)
