// Package utils provides utility functions for the chronograph engine.
//
// This package contains helpers shared by the ingestion and retrieval paths:
//   - Vector math and top-K selection (vector.go)
//   - Admission control, retry and concurrent execution (concurrent.go, retry.go)
//   - Per-key locking for resolver serialization (keylock.go)
//   - Name normalization, token similarity and ids (helpers.go)
//   - Panic recovery for goroutines (recovery.go)
package utils
