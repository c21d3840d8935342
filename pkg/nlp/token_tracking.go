package nlp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/chronograph/pkg/types"
)

const defaultTokenBatchSize = 100

// TokenUsageRecord represents a single log entry for token usage
type TokenUsageRecord struct {
	ID               string    `parquet:"id"`
	Timestamp        time.Time `parquet:"timestamp"`
	Model            string    `parquet:"model"`
	TotalTokens      int       `parquet:"total_tokens"`
	PromptTokens     int       `parquet:"prompt_tokens"`
	CompletionTokens int       `parquet:"completion_tokens"`
	GroupID          string    `parquet:"group_id"`
	UserID           string    `parquet:"user_id"`
	SessionID        string    `parquet:"session_id"`
	RequestSource    string    `parquet:"request_source"`
	IngestionSource  string    `parquet:"ingestion_source"`
}

// ParquetTokenTracker buffers token usage records and writes each full batch
// to its own Parquet file under outputDir.
type ParquetTokenTracker struct {
	outputDir string
	batchSize int
	logger    *slog.Logger

	mu     sync.Mutex
	buffer []TokenUsageRecord
	seq    int
}

// NewTokenTracker creates a new token tracker writing to a directory
func NewTokenTracker(outputDir string, batchSize int, logger *slog.Logger) (*ParquetTokenTracker, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create token tracking directory: %w", err)
	}
	if batchSize <= 0 {
		batchSize = defaultTokenBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ParquetTokenTracker{
		outputDir: outputDir,
		batchSize: batchSize,
		logger:    logger,
		buffer:    make([]TokenUsageRecord, 0, batchSize),
	}, nil
}

// AddUsage records usage for model, tagging it with the request metadata
// carried by ctx.
func (t *ParquetTokenTracker) AddUsage(ctx context.Context, usage *types.TokenUsage, model string) error {
	if usage == nil {
		return nil
	}

	record := TokenUsageRecord{
		ID:               uuid.NewString(),
		Timestamp:        time.Now().UTC(),
		Model:            model,
		TotalTokens:      usage.TotalTokens,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		GroupID:          contextString(ctx, types.ContextKeyGroupID),
		UserID:           contextString(ctx, types.ContextKeyUserID),
		SessionID:        contextString(ctx, types.ContextKeySessionID),
		RequestSource:    contextString(ctx, types.ContextKeyRequestSource),
		IngestionSource:  contextString(ctx, types.ContextKeyIngestionSource),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.buffer = append(t.buffer, record)
	if len(t.buffer) >= t.batchSize {
		return t.flush()
	}
	return nil
}

// Flush writes any buffered records.
func (t *ParquetTokenTracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flush()
}

// Close flushes the remaining records.
func (t *ParquetTokenTracker) Close() error {
	return t.Flush()
}

// flush writes the current buffer to a new Parquet file.
// Caller must hold the lock.
func (t *ParquetTokenTracker) flush() error {
	if len(t.buffer) == 0 {
		return nil
	}

	t.seq++
	filename := fmt.Sprintf("token_usage_%s_%04d.parquet", time.Now().UTC().Format("20060102_150405"), t.seq)
	path := filepath.Join(t.outputDir, filename)

	if err := parquet.WriteFile(path, t.buffer); err != nil {
		return fmt.Errorf("failed to write token usage parquet file: %w", err)
	}
	t.buffer = t.buffer[:0]
	return nil
}

func contextString(ctx context.Context, key any) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// TokenTrackingClient wraps a Client to track usage
type TokenTrackingClient struct {
	client  Client
	tracker *ParquetTokenTracker
}

// NewTokenTrackingClient creates a wrapper client
func NewTokenTrackingClient(client Client, tracker *ParquetTokenTracker) *TokenTrackingClient {
	return &TokenTrackingClient{client: client, tracker: tracker}
}

// Chat implements Client
func (c *TokenTrackingClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	resp, err := c.client.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	c.record(ctx, resp)
	return resp, nil
}

// ChatWithStructuredOutput implements Client
func (c *TokenTrackingClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	resp, err := c.client.ChatWithStructuredOutput(ctx, messages, schema)
	if err != nil {
		return nil, err
	}
	c.record(ctx, resp)
	return resp, nil
}

func (c *TokenTrackingClient) record(ctx context.Context, resp *types.Response) {
	if resp == nil || resp.TokensUsed == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = "unknown"
	}
	if err := c.tracker.AddUsage(ctx, resp.TokensUsed, model); err != nil {
		c.tracker.logger.Warn("failed to log token usage", "model", model, "error", err)
	}
}

// Close flushes the tracker and closes the wrapped client.
func (c *TokenTrackingClient) Close() error {
	if err := c.tracker.Close(); err != nil {
		c.tracker.logger.Warn("failed to flush token usage", "error", err)
	}
	return c.client.Close()
}
