package chronograph

import (
	"context"
	"slices"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils/maintenance"
)

// GetNode returns the entity node with the given id.
func (c *Client) GetNode(ctx context.Context, id string) (*types.EntityNode, error) {
	return c.store.GetNode(ctx, id)
}

// GetEdge returns the entity edge with the given id.
func (c *Client) GetEdge(ctx context.Context, id string) (*types.EntityEdge, error) {
	return c.store.GetEdge(ctx, id)
}

// GetEpisode returns the episode with the given id.
func (c *Client) GetEpisode(ctx context.Context, id string) (*types.EpisodicNode, error) {
	return c.store.GetEpisode(ctx, id)
}

// DefaultEpisodeLimit is the number of episodes ListEpisodes returns when
// the caller gives no limit.
const DefaultEpisodeLimit = 10

// ListEpisodes returns a group's episodes, most recent valid_at first. A
// non-nil before keeps only episodes that occurred strictly earlier.
func (c *Client) ListEpisodes(ctx context.Context, groupID string, before *time.Time, limit int) ([]*types.EpisodicNode, error) {
	if groupID == "" {
		return nil, errkind.E(errkind.Invalid, "chronograph.ListEpisodes", types.ErrEmptyGroupID)
	}
	if limit <= 0 {
		limit = DefaultEpisodeLimit
	}
	return c.store.ListEpisodes(ctx, driver.EpisodeQuery{GroupIDs: []string{groupID}, Before: before, Limit: limit})
}

// EdgesBetween returns the edges linking two nodes in either direction,
// ordered by valid_at. A nil asOf returns the full history of the pair,
// closed edges included; otherwise only the edges valid at asOf.
func (c *Client) EdgesBetween(ctx context.Context, groupID, nodeA, nodeB string, asOf *time.Time) ([]*types.EntityEdge, error) {
	if groupID == "" {
		return nil, errkind.E(errkind.Invalid, "chronograph.EdgesBetween", types.ErrEmptyGroupID)
	}
	if nodeA == "" || nodeB == "" {
		return nil, errkind.E(errkind.Invalid, "chronograph.EdgesBetween", types.ErrEmptyEndpoint)
	}
	return c.edgeOps.GetBetweenNodes(ctx, groupID, nodeA, nodeB, asOf)
}

// FactsAsOf returns the facts about a node that held at the instant at,
// ordered by valid_at.
func (c *Client) FactsAsOf(ctx context.Context, groupID, nodeID string, at time.Time) ([]*types.EntityEdge, error) {
	const op = "chronograph.FactsAsOf"
	if groupID == "" {
		return nil, errkind.E(errkind.Invalid, op, types.ErrEmptyGroupID)
	}
	if nodeID == "" {
		return nil, errkind.E(errkind.Invalid, op, types.ErrEmptyID)
	}
	edges, err := c.maint.GetEdgesForNode(ctx, nodeID, &at)
	if err != nil {
		return nil, err
	}
	edges = slices.DeleteFunc(edges, func(e *types.EntityEdge) bool { return e.GroupID != groupID })
	slices.SortStableFunc(edges, func(a, b *types.EntityEdge) int {
		if c := a.ValidAt.Compare(b.ValidAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return edges, nil
}

// Stats summarizes a group.
func (c *Client) Stats(ctx context.Context, groupID string) (*maintenance.GraphStatistics, error) {
	return c.maint.GetGraphStatistics(ctx, groupID)
}

// ValidateGraph lists integrity problems in a group: dangling endpoints,
// inverted validity windows and duplicate open facts. An empty list means
// the group is consistent.
func (c *Client) ValidateGraph(ctx context.Context, groupID string) ([]string, error) {
	return c.maint.ValidateGraphIntegrity(ctx, groupID)
}
