// Package driver is the storage port of the knowledge graph.
//
// GraphDriver is composed from small interfaces (EpisodeStore, NodeStore,
// EdgeStore, GraphSearcher); consumers should depend on the smallest one
// they need. Backends:
//   - memory: process-local maps, the default for tests
//   - badger: embedded key-value store (dgraph-io/badger)
//   - sqlite: relational tables (mattn/go-sqlite3)
//   - neo4j: Bolt protocol (neo4j-go-driver)
//   - falkordb: GRAPH.QUERY over Redis (go-redis)
//
// Use New to pick a backend from configuration:
//
//	d, err := driver.New(ctx, cfg.Database, logger)
//
// Writes are idempotent upserts keyed by ID. Storage does not enforce the
// one-open-edge-per-key rule; the temporal resolver does. Errors carry an
// errkind.Kind: NotFound for missing records, Invalid for records that fail
// validation, ReferentialIntegrity for edges with a missing endpoint, and
// Storage for everything the backend itself reports.
//
// All implementations are safe for concurrent use.
package driver
