// Package logger builds the process slog.Logger: a colored, JSON or plain
// text console handler, optionally wrapped by the telemetry archive handlers.
package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/telemetry"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// persistenceMarkers select the info lines highlighted in green.
var persistenceMarkers = []string{"persist", "commit", "rolled back"}

// ColorHandler is a text handler that colors each line by level. Info lines
// about writes to the graph are green.
type ColorHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	buf   *bytes.Buffer
	inner slog.Handler
}

// NewColorHandler creates a ColorHandler writing to w.
func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	buf := &bytes.Buffer{}
	return &ColorHandler{
		mu:    &sync.Mutex{},
		w:     w,
		buf:   buf,
		inner: slog.NewTextHandler(buf, opts),
	}
}

func (h *ColorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	color := levelColor(r)
	if color == "" {
		_, err := h.w.Write(h.buf.Bytes())
		return err
	}
	line := bytes.TrimRight(h.buf.Bytes(), "\n")
	_, err := io.WriteString(h.w, color+string(line)+colorReset+"\n")
	return err
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorHandler{mu: h.mu, w: h.w, buf: h.buf, inner: h.inner.WithAttrs(attrs)}
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	return &ColorHandler{mu: h.mu, w: h.w, buf: h.buf, inner: h.inner.WithGroup(name)}
}

func levelColor(r slog.Record) string {
	switch {
	case r.Level >= slog.LevelError:
		return colorRed
	case r.Level >= slog.LevelWarn:
		return colorYellow
	case r.Level < slog.LevelInfo:
		return colorGray
	}
	msg := strings.ToLower(r.Message)
	for _, m := range persistenceMarkers {
		if strings.Contains(msg, m) {
			return colorGreen
		}
	}
	return ""
}

// NewDefaultLogger returns a colored logger on stderr.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return slog.New(NewColorHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps debug, info, warn and error to slog levels; anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns the console handler selected by cfg.Format.
func NewHandler(w io.Writer, cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		return NewColorHandler(w, opts)
	}
}

// NewLogger builds the console logger and wraps it with the Parquet and
// SQLite archives configured in tel. The returned function flushes and
// closes the archives.
func NewLogger(w io.Writer, cfg config.LogConfig, tel config.TelemetryConfig) (*slog.Logger, func() error, error) {
	handler := NewHandler(w, cfg)
	var closers []func() error

	if tel.ParquetPath != "" {
		ph, err := telemetry.NewParquetHandler(handler, tel.ParquetPath, 0)
		if err != nil {
			return nil, nil, err
		}
		handler = ph
		closers = append(closers, ph.Close)
	}
	if tel.SQLitePath != "" {
		sh, err := telemetry.NewSQLiteHandler(handler, tel.SQLitePath)
		if err != nil {
			return nil, nil, errors.Join(err, closeAll(closers))
		}
		handler = sh
		closers = append(closers, sh.Close)
	}
	return slog.New(handler), func() error { return closeAll(closers) }, nil
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
