package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelThroughWrapping(t *testing.T) {
	base := E(Extraction, "ingest.extract", errors.New("deadline exceeded"))
	wrapped := fmt.Errorf("add episode: %w", base)

	assert.True(t, errors.Is(wrapped, ErrExtraction))
	assert.False(t, errors.Is(wrapped, ErrEmbedding))
	assert.Equal(t, Extraction, KindOf(wrapped))
	assert.True(t, Is(Extraction, wrapped))
}

func TestErrorIsRespectsOp(t *testing.T) {
	err := E(Storage, "neo4j.CreateEdge", errors.New("connection reset"))

	assert.True(t, errors.Is(err, &Error{Kind: Storage, Op: "neo4j.CreateEdge"}))
	assert.False(t, errors.Is(err, &Error{Kind: Storage, Op: "neo4j.GetEdge"}))
}

func TestErrorMessage(t *testing.T) {
	err := E(ReferentialIntegrity, "resolve", errors.New("unknown target")).
		With("edge_id", "e1", "target_id", "n9")

	assert.Equal(t, "resolve: referential integrity error [edge_id=e1 target_id=n9]: unknown target", err.Error())
	assert.Equal(t, "configuration error", E(Configuration, "", nil).Error())
}

func TestWrapKeepsInnermostKind(t *testing.T) {
	inner := E(Embedding, "embed", errors.New("boom"))
	outer := Wrap(Storage, "commit", fmt.Errorf("ctx: %w", inner))

	assert.Equal(t, Embedding, KindOf(outer))
	assert.Nil(t, Wrap(Storage, "noop", nil))

	plain := Wrap(Storage, "commit", errors.New("disk full"))
	require.Error(t, plain)
	assert.Equal(t, Storage, KindOf(plain))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"configuration", E(Configuration, "", nil), false},
		{"integrity", E(ReferentialIntegrity, "", nil), false},
		{"invalid", E(Invalid, "", nil), false},
		{"storage", E(Storage, "", nil), true},
		{"extraction", E(Extraction, "", nil), true},
		{"unclassified", errors.New("eof"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestLogAttrs(t *testing.T) {
	err := E(Storage, "op", errors.New("x")).With("id", 1)
	attrs := err.LogAttrs()

	assert.Contains(t, attrs, "error_kind")
	assert.Contains(t, attrs, "storage error")
	assert.Contains(t, attrs, "id")
	assert.Contains(t, attrs, "cause")
}
