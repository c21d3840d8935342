package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
)

// MaintenanceUtils provides read-only inspection of a group's graph.
type MaintenanceUtils struct {
	driver driver.GraphDriver
	logger *slog.Logger
	now    func() time.Time
}

// NewMaintenanceUtils creates a new MaintenanceUtils instance
func NewMaintenanceUtils(driver driver.GraphDriver, logger *slog.Logger) *MaintenanceUtils {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceUtils{driver: driver, logger: logger, now: time.Now}
}

// GetEntitiesAndEdges retrieves all entities and edges for a given group ID
func (mu *MaintenanceUtils) GetEntitiesAndEdges(ctx context.Context, groupID string) ([]*types.EntityNode, []*types.EntityEdge, error) {
	nodes, err := mu.driver.ListNodes(ctx, driver.NodeQuery{GroupIDs: []string{groupID}})
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.Storage, "maintenance.Entities", err)
	}
	edges, err := mu.driver.ListEdges(ctx, driver.EdgeQuery{GroupIDs: []string{groupID}})
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.Storage, "maintenance.Edges", err)
	}
	mu.logger.Debug("retrieved group graph", "group_id", groupID, "nodes", len(nodes), "edges", len(edges))
	return nodes, edges, nil
}

// GetEdgesForNode retrieves all edges connected to a specific node
func (mu *MaintenanceUtils) GetEdgesForNode(ctx context.Context, nodeID string, asOf *time.Time) ([]*types.EntityEdge, error) {
	edges, err := mu.driver.ListEdges(ctx, driver.EdgeQuery{NodeIDs: []string{nodeID}, AsOf: asOf})
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, "maintenance.EdgesForNode", err)
	}
	return edges, nil
}

// GraphStatistics holds statistics about the graph
type GraphStatistics struct {
	GroupID       string `json:"group_id"`
	NodeCount     int64  `json:"node_count"`
	EdgeCount     int64  `json:"edge_count"`
	OpenEdgeCount int64  `json:"open_edge_count"`
	// ActiveEdgeCount counts edges valid when the statistics were taken.
	ActiveEdgeCount int64 `json:"active_edge_count"`
	// MeanFactLifespan averages the validity windows of closed edges.
	MeanFactLifespan time.Duration    `json:"mean_fact_lifespan"`
	EdgesByLabel     map[string]int64 `json:"edges_by_label"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// GetGraphStatistics returns basic statistics about the graph
func (mu *MaintenanceUtils) GetGraphStatistics(ctx context.Context, groupID string) (*GraphStatistics, error) {
	nodes, edges, err := mu.GetEntitiesAndEdges(ctx, groupID)
	if err != nil {
		return nil, err
	}

	stats := &GraphStatistics{
		GroupID:      groupID,
		NodeCount:    int64(len(nodes)),
		EdgeCount:    int64(len(edges)),
		EdgesByLabel: make(map[string]int64),
	}
	for _, n := range nodes {
		if n.UpdatedAt.After(stats.LastUpdated) {
			stats.LastUpdated = n.UpdatedAt
		}
	}
	var total time.Duration
	var closed int64
	for _, e := range edges {
		stats.EdgesByLabel[e.Label]++
		if e.IsOpen() {
			stats.OpenEdgeCount++
		}
		if d := EdgeLifespan(e); d != nil {
			total += *d
			closed++
		}
		if e.CreatedAt.After(stats.LastUpdated) {
			stats.LastUpdated = e.CreatedAt
		}
	}
	if closed > 0 {
		stats.MeanFactLifespan = total / time.Duration(closed)
	}
	stats.ActiveEdgeCount = int64(len(ActiveEdgesAt(edges, mu.now())))
	return stats, nil
}

// ValidateGraphIntegrity performs basic integrity checks on the graph: edge
// endpoints exist in the group, validity windows are ordered, and no key has
// more than one open edge.
func (mu *MaintenanceUtils) ValidateGraphIntegrity(ctx context.Context, groupID string) ([]string, error) {
	nodes, edges, err := mu.GetEntitiesAndEdges(ctx, groupID)
	if err != nil {
		return nil, err
	}

	nodeExists := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		nodeExists[node.ID] = true
	}

	var issues []string
	for _, edge := range edges {
		if !nodeExists[edge.SourceID] {
			issues = append(issues, fmt.Sprintf("edge %s references missing source node %s", edge.ID, edge.SourceID))
		}
		if !nodeExists[edge.TargetID] {
			issues = append(issues, fmt.Sprintf("edge %s references missing target node %s", edge.ID, edge.TargetID))
		}
		if err := ValidateTemporalConsistency(edge); err != nil {
			issues = append(issues, fmt.Sprintf("edge %s: %v", edge.ID, err))
		}
	}
	for key, open := range OpenEdgeViolations(edges) {
		issues = append(issues, fmt.Sprintf("%d open edges for %s", len(open), key))
	}

	if len(issues) > 0 {
		mu.logger.Warn("graph integrity issues found", "group_id", groupID, "issues", len(issues))
	}
	return issues, nil
}
