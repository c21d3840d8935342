package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/soundprediction/chronograph/pkg/types"
)

// Neo4jDriver implements the GraphDriver interface for Neo4j databases.
type Neo4jDriver struct {
	*cypherStore
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jDriver creates a new Neo4j driver instance and ensures indexes.
func NewNeo4jDriver(ctx context.Context, uri, username, password, database string, logger *slog.Logger) (*Neo4jDriver, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, storageErr("neo4j.Open", fmt.Errorf("failed to create neo4j driver: %w", err))
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		client.Close(ctx)
		return nil, storageErr("neo4j.Open", err)
	}

	if database == "" {
		database = "neo4j"
	}

	d := &Neo4jDriver{client: client, database: database}
	d.cypherStore = &cypherStore{name: "neo4j", runner: d}

	for _, q := range GetRangeIndices(types.GraphProviderNeo4j) {
		if _, err := d.write(ctx, cypherStmt{query: q}); err != nil && logger != nil {
			logger.Warn("index creation failed", "query", q, "error", err)
		}
	}
	return d, nil
}

func (n *Neo4jDriver) Provider() types.GraphProvider { return types.GraphProviderNeo4j }

// Close closes the underlying driver.
func (n *Neo4jDriver) Close() error {
	return n.client.Close(context.Background())
}

func collectRows(ctx context.Context, tx neo4j.ManagedTransaction, stmt cypherStmt) ([]map[string]any, error) {
	res, err := tx.Run(ctx, stmt.query, stmt.params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.AsMap())
	}
	return rows, nil
}

func (n *Neo4jDriver) read(ctx context.Context, stmt cypherStmt) ([]map[string]any, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRows(ctx, tx, stmt)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := result.([]map[string]any)
	return rows, nil
}

func (n *Neo4jDriver) write(ctx context.Context, stmt cypherStmt) ([]map[string]any, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRows(ctx, tx, stmt)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := result.([]map[string]any)
	return rows, nil
}
