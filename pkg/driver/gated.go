package driver

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// GatedDriver runs every read of the wrapped driver through a gate, so that
// reads share the storage concurrency limit and retry transient failures.
// Writes pass through untouched; ingestion gates and journals them itself.
type GatedDriver struct {
	GraphDriver
	gate *utils.Gate
}

// NewGatedDriver wraps d with gate.
func NewGatedDriver(d GraphDriver, gate *utils.Gate) *GatedDriver {
	return &GatedDriver{GraphDriver: d, gate: gate}
}

// Unwrap returns the wrapped driver.
func (g *GatedDriver) Unwrap() GraphDriver {
	return g.GraphDriver
}

func (g *GatedDriver) GetEpisode(ctx context.Context, id string) (*types.EpisodicNode, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) (*types.EpisodicNode, error) {
		return g.GraphDriver.GetEpisode(ctx, id)
	})
}

func (g *GatedDriver) ListEpisodes(ctx context.Context, q EpisodeQuery) ([]*types.EpisodicNode, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) ([]*types.EpisodicNode, error) {
		return g.GraphDriver.ListEpisodes(ctx, q)
	})
}

func (g *GatedDriver) GetNode(ctx context.Context, id string) (*types.EntityNode, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) (*types.EntityNode, error) {
		return g.GraphDriver.GetNode(ctx, id)
	})
}

func (g *GatedDriver) ListNodes(ctx context.Context, q NodeQuery) ([]*types.EntityNode, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) ([]*types.EntityNode, error) {
		return g.GraphDriver.ListNodes(ctx, q)
	})
}

func (g *GatedDriver) GetEdge(ctx context.Context, id string) (*types.EntityEdge, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) (*types.EntityEdge, error) {
		return g.GraphDriver.GetEdge(ctx, id)
	})
}

func (g *GatedDriver) ListEdges(ctx context.Context, q EdgeQuery) ([]*types.EntityEdge, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) ([]*types.EntityEdge, error) {
		return g.GraphDriver.ListEdges(ctx, q)
	})
}

func (g *GatedDriver) SearchNodes(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityNode, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) ([]*types.EntityNode, error) {
		return g.GraphDriver.SearchNodes(ctx, query, options)
	})
}

func (g *GatedDriver) SearchEdges(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityEdge, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) ([]*types.EntityEdge, error) {
		return g.GraphDriver.SearchEdges(ctx, query, options)
	})
}
