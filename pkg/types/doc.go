// Package types defines the core data types for the chronograph knowledge graph.
//
// This package contains the fundamental records persisted by every backend:
//   - EpisodicNode: one ingested unit of input, immutable once written
//   - EntityNode: a deduplicated real-world entity
//   - EntityEdge: a temporal fact between two entities with a validity window
//
// plus the extraction candidates produced by an extractor and the request and
// result types of the query surface.
//
// # Temporal model
//
// Edges are bi-temporal. ValidAt and InvalidAt bound the period during which the
// fact was true in the world; CreatedAt records when the system learned it. A
// nil InvalidAt means the fact is still valid. Use ValidAsOf for point-in-time
// checks:
//
//	if edge.ValidAsOf(day5) {
//	    // the fact held on day 5
//	}
//
// # Validation
//
// Records provide Validate() methods for input validation. Every record is
// scoped by GroupID; an empty group is rejected.
package types
