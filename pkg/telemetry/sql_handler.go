package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS telemetry_logs (
	id             TEXT PRIMARY KEY,
	timestamp      INTEGER NOT NULL,
	level          TEXT NOT NULL,
	message        TEXT,
	kind           TEXT,
	group_id       TEXT,
	user_id        TEXT,
	session_id     TEXT,
	request_source TEXT,
	source_file    TEXT,
	line_number    INTEGER,
	attributes     TEXT
);
CREATE INDEX IF NOT EXISTS idx_telemetry_logs_kind ON telemetry_logs(kind);
CREATE INDEX IF NOT EXISTS idx_telemetry_logs_group ON telemetry_logs(group_id, timestamp);
`

// SQLHandler is a slog.Handler that forwards every record to next and
// inserts error-level records into a SQLite table.
type SQLHandler struct {
	next  slog.Handler
	db    *sql.DB
	owned bool
	state handlerState
}

// NewSQLiteHandler opens (creating if needed) the SQLite file at path.
func NewSQLiteHandler(next slog.Handler, path string) (*SQLHandler, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	h, err := NewSQLHandler(next, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	h.owned = true
	return h, nil
}

// NewSQLHandler creates a SQLHandler using an existing SQLite connection.
func NewSQLHandler(next slog.Handler, db *sql.DB) (*SQLHandler, error) {
	if _, err := db.Exec(telemetrySchema); err != nil {
		return nil, fmt.Errorf("failed to ensure telemetry table: %w", err)
	}
	return &SQLHandler{next: next, db: db}, nil
}

// Enabled implements slog.Handler
func (h *SQLHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *SQLHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < slog.LevelError {
		return nil
	}

	rec := newLogRecord(ctx, r, h.state)
	_, err := h.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO telemetry_logs (id, timestamp, level, message, kind, group_id, user_id,
			session_id, request_source, source_file, line_number, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), rec.Level, rec.Message, rec.Kind, rec.GroupID, rec.UserID,
		rec.SessionID, rec.RequestSource, rec.SourceFile, rec.LineNumber, rec.Attributes,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: failed to write log to sqlite: %v\n", err)
	}
	return nil
}

// Close closes the database if the handler opened it.
func (h *SQLHandler) Close() error {
	if !h.owned {
		return nil
	}
	return h.db.Close()
}

// WithAttrs implements slog.Handler
func (h *SQLHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SQLHandler{next: h.next.WithAttrs(attrs), db: h.db, state: h.state.withAttrs(attrs)}
}

// WithGroup implements slog.Handler
func (h *SQLHandler) WithGroup(name string) slog.Handler {
	return &SQLHandler{next: h.next.WithGroup(name), db: h.db, state: h.state.withGroup(name)}
}
