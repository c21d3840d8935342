package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, dir string) []LogRecord {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	var out []LogRecord
	for _, f := range files {
		rows, err := parquet.ReadFile[LogRecord](f)
		require.NoError(t, err)
		out = append(out, rows...)
	}
	return out
}

func TestParquetHandlerArchivesErrors(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	h, err := NewParquetHandler(slog.NewTextHandler(&console, nil), dir, 10)
	require.NoError(t, err)

	logger := slog.New(h)
	ctx := context.WithValue(context.Background(), types.ContextKeyGroupID, "acme")
	logger.InfoContext(ctx, "episode ingested")
	logger.ErrorContext(ctx, "extraction failed", "kind", "extraction", "error", errors.New("timeout"))

	assert.Contains(t, console.String(), "episode ingested")
	assert.Contains(t, console.String(), "extraction failed")
	assert.Empty(t, readRecords(t, dir), "buffered until flush")

	require.NoError(t, h.Close())
	records := readRecords(t, dir)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "ERROR", rec.Level)
	assert.Equal(t, "extraction failed", rec.Message)
	assert.Equal(t, "extraction", rec.Kind)
	assert.Equal(t, "acme", rec.GroupID)
	assert.Contains(t, rec.Attributes, `"error":"timeout"`)
}

func TestParquetHandlerSharesBufferWithDerivedLoggers(t *testing.T) {
	dir := t.TempDir()
	h, err := NewParquetHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), dir, 2)
	require.NoError(t, err)

	root := slog.New(h)
	child := root.With("component", "search").WithGroup("query")
	root.Error("first")
	child.Error("second", "group_id", "globex")

	records := readRecords(t, dir)
	require.Len(t, records, 2, "full batch written once across handlers")
	byMsg := map[string]LogRecord{}
	for _, r := range records {
		byMsg[r.Message] = r
	}
	assert.Contains(t, byMsg["second"].Attributes, `"component":"search"`)
	assert.Contains(t, byMsg["second"].Attributes, `"query.group_id":"globex"`)
	assert.Equal(t, "globex", byMsg["second"].GroupID)
}

func TestSQLiteHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	h, err := NewSQLiteHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), path)
	require.NoError(t, err)
	defer h.Close()

	logger := slog.New(h).With("kind", "storage")
	logger.Warn("slow write")
	logger.Error("write failed", "group_id", "acme")

	var count int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM telemetry_logs`).Scan(&count))
	assert.Equal(t, 1, count)

	var kind, group, msg string
	require.NoError(t, h.db.QueryRow(`SELECT kind, group_id, message FROM telemetry_logs`).Scan(&kind, &group, &msg))
	assert.Equal(t, "storage", kind)
	assert.Equal(t, "acme", group)
	assert.Equal(t, "write failed", msg)
}
