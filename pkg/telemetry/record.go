// Package telemetry archives error-level log records to Parquet files and
// SQLite, and sets up OpenTelemetry tracing.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soundprediction/chronograph/pkg/types"
)

// LogRecord is one archived error record.
type LogRecord struct {
	ID            string    `parquet:"id"`
	Timestamp     time.Time `parquet:"timestamp"`
	Level         string    `parquet:"level"`
	Message       string    `parquet:"message"`
	Kind          string    `parquet:"kind"`
	GroupID       string    `parquet:"group_id"`
	UserID        string    `parquet:"user_id"`
	SessionID     string    `parquet:"session_id"`
	RequestSource string    `parquet:"request_source"`
	SourceFile    string    `parquet:"source_file"`
	LineNumber    int       `parquet:"line_number"`
	Attributes    string    `parquet:"attributes"` // JSON object
}

// handlerState is the attribute and group context accumulated through
// WithAttrs and WithGroup.
type handlerState struct {
	attrs  []slog.Attr
	prefix string
}

func (s handlerState) withAttrs(attrs []slog.Attr) handlerState {
	out := handlerState{prefix: s.prefix, attrs: make([]slog.Attr, 0, len(s.attrs)+len(attrs))}
	out.attrs = append(out.attrs, s.attrs...)
	for _, a := range attrs {
		out.attrs = append(out.attrs, slog.Attr{Key: s.prefix + a.Key, Value: a.Value})
	}
	return out
}

func (s handlerState) withGroup(name string) handlerState {
	if name == "" {
		return s
	}
	return handlerState{attrs: s.attrs, prefix: s.prefix + name + "."}
}

func newLogRecord(ctx context.Context, r slog.Record, st handlerState) LogRecord {
	attrs := make(map[string]any, len(st.attrs)+r.NumAttrs())
	for _, a := range st.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, st.prefix+a.Key, a.Value.Resolve())
		return true
	})
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			attrs[k] = err.Error()
		}
	}
	attrsJSON, _ := json.Marshal(attrs)

	rec := LogRecord{
		ID:            uuid.NewString(),
		Timestamp:     r.Time.UTC(),
		Level:         r.Level.String(),
		Message:       r.Message,
		Kind:          stringAttr(attrs, "error_kind"),
		GroupID:       contextString(ctx, types.ContextKeyGroupID),
		UserID:        contextString(ctx, types.ContextKeyUserID),
		SessionID:     contextString(ctx, types.ContextKeySessionID),
		RequestSource: contextString(ctx, types.ContextKeyRequestSource),
		Attributes:    string(attrsJSON),
	}
	if rec.Kind == "" {
		rec.Kind = stringAttr(attrs, "kind")
	}
	if rec.GroupID == "" {
		rec.GroupID = stringAttr(attrs, "group_id")
	}
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		rec.SourceFile, rec.LineNumber = f.File, f.Line
	}
	return rec
}

func flatten(dst map[string]any, key string, v slog.Value) {
	if v.Kind() != slog.KindGroup {
		dst[key] = v.Any()
		return
	}
	for _, a := range v.Group() {
		flatten(dst, key+"."+a.Key, a.Value.Resolve())
	}
}

// stringAttr finds key at any group depth.
func stringAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	for k, v := range attrs {
		if s, ok := v.(string); ok && strings.HasSuffix(k, "."+key) {
			return s
		}
	}
	return ""
}

func contextString(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
