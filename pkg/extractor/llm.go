package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

const defaultMaxContinuations = 2

var thinkTags = regexp.MustCompile(`(?s)<think>.*?</think>`)

// LLMExtractor extracts entities and edges with a chat model in JSON mode.
// Answers are cleaned of reasoning tags and code fences and repaired with
// jsonrepair; an answer that still does not parse is sent back to the model
// with a continuation prompt.
type LLMExtractor struct {
	client           nlp.Client
	maxContinuations int
	logger           *slog.Logger
}

// Option configures an LLMExtractor.
type Option func(*LLMExtractor)

// WithMaxContinuations bounds the follow-up prompts sent after an
// unparseable answer.
func WithMaxContinuations(n int) Option {
	return func(e *LLMExtractor) {
		if n >= 0 {
			e.maxContinuations = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *LLMExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewLLMExtractor creates an extractor backed by client.
func NewLLMExtractor(client nlp.Client, opts ...Option) *LLMExtractor {
	e := &LLMExtractor{
		client:           client,
		maxContinuations: defaultMaxContinuations,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type wireEntity struct {
	Name       string         `json:"name"`
	Labels     []string       `json:"labels"`
	Summary    string         `json:"summary"`
	Attributes map[string]any `json:"attributes"`
}

type wireEdge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	RelationType string  `json:"relation_type"`
	Label        string  `json:"label"`
	Fact         string  `json:"fact"`
	ValidAt      *string `json:"valid_at"`
	InvalidAt    *string `json:"invalid_at"`
}

type wireResult struct {
	Entities []wireEntity `json:"entities"`
	Edges    []wireEdge   `json:"edges"`
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, req Request) (*types.ExtractionResult, error) {
	if req.Episode == nil || strings.TrimSpace(req.Episode.Content) == "" {
		return nil, errkind.Ef(errkind.Invalid, "extractor.Extract", "episode has no content")
	}

	messages := buildMessages(req)
	var lastErr error
	for attempt := 0; attempt <= e.maxContinuations; attempt++ {
		resp, err := e.client.ChatWithStructuredOutput(ctx, messages, wireResult{})
		if err != nil {
			return nil, errkind.Wrap(errkind.Extraction, "extractor.Extract", err)
		}

		wire, err := parseResponse(resp.Content)
		if err == nil {
			result := wire.toResult(e.logger)
			result.Normalize()
			e.logger.Debug("extracted episode",
				"episode_id", req.Episode.ID,
				"entities", len(result.Entities),
				"edges", len(result.Edges))
			return result, nil
		}

		lastErr = err
		e.logger.Warn("unparseable extraction response",
			"episode_id", req.Episode.ID, "attempt", attempt+1, "error", err)
		messages = append(messages,
			nlp.NewAssistantMessage(resp.Content),
			nlp.NewUserMessage(continuationPrompt))
	}
	return nil, errkind.E(errkind.Extraction, "extractor.Extract",
		fmt.Errorf("no valid JSON after %d attempts: %w", e.maxContinuations+1, lastErr)).With("episode_id", req.Episode.ID)
}

// parseResponse extracts the JSON object from a model answer. A complete
// object is used as is; otherwise everything from the first brace is
// repaired, which also closes truncated answers.
func parseResponse(content string) (*wireResult, error) {
	body := stripFences(thinkTags.ReplaceAllString(content, ""))
	start := strings.Index(body, "{")
	if start < 0 {
		return nil, errors.New("no JSON object in response")
	}

	raw := body[start:]
	if end := strings.LastIndex(body, "}"); end > start && json.Valid([]byte(body[start:end+1])) {
		raw = body[start : end+1]
	} else {
		repaired, err := jsonrepair.JSONRepair(raw)
		if err != nil {
			return nil, fmt.Errorf("repair JSON: %w", err)
		}
		raw = repaired
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return &wire, nil
}

// stripFences returns the content of the first markdown code block, or s.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	i := strings.Index(s, "```")
	if i < 0 {
		return s
	}
	rest := strings.TrimPrefix(s[i+3:], "json")
	if j := strings.Index(rest, "```"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func (w *wireResult) toResult(logger *slog.Logger) *types.ExtractionResult {
	out := &types.ExtractionResult{
		Entities: make([]types.CandidateEntity, 0, len(w.Entities)),
		Edges:    make([]types.CandidateEdge, 0, len(w.Edges)),
	}
	for _, ent := range w.Entities {
		out.Entities = append(out.Entities, types.CandidateEntity{
			Name:       ent.Name,
			Labels:     ent.Labels,
			Attributes: ent.Attributes,
			Summary:    ent.Summary,
		})
	}
	for _, edge := range w.Edges {
		label := edge.RelationType
		if label == "" {
			label = edge.Label
		}
		ce := types.CandidateEdge{
			SourceName: edge.Source,
			TargetName: edge.Target,
			Label:      label,
			Fact:       edge.Fact,
			ValidAt:    parseTime(edge.ValidAt),
			InvalidAt:  parseTime(edge.InvalidAt),
		}
		if edge.ValidAt != nil && ce.ValidAt == nil && !isNullish(*edge.ValidAt) {
			logger.Debug("ignoring unparseable valid_at", "value", *edge.ValidAt)
		}
		out.Edges = append(out.Edges, ce)
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// parseTime accepts ISO 8601 timestamps, dates, months and years. Values
// without a zone are UTC.
func parseTime(s *string) *time.Time {
	if s == nil || isNullish(*s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func isNullish(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a", "unknown":
		return true
	}
	return false
}
