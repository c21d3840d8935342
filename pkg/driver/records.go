package driver

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// Graph and SQL backends share one flat property layout. Times are unix
// microseconds so that range predicates work as plain integer comparisons in
// every query language; nested values are JSON strings. Microseconds keep
// instants from year -290307 to 294246 in an int64, where nanoseconds would
// overflow outside 1678-2262.

var episodeColumns = []string{
	"uuid", "group_id", "name", "content", "source", "source_description", "payload", "valid_at", "created_at",
}

var nodeColumns = []string{
	"uuid", "group_id", "name", "labels", "attributes", "summary", "name_embedding", "created_at", "updated_at",
}

var edgeColumns = []string{
	"uuid", "group_id", "source_id", "target_id", "label", "fact", "fact_embedding",
	"valid_at", "invalid_at", "created_at", "episode_id", "episodes",
}

// returnColumns renders "a.x AS x, a.y AS y" for a Cypher RETURN clause.
func returnColumns(alias string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = alias + "." + c + " AS " + c
	}
	return strings.Join(parts, ", ")
}

func unixMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(n int64) time.Time { return time.UnixMicro(n).UTC() }

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func episodeProps(ep *types.EpisodicNode) map[string]any {
	return map[string]any{
		"uuid":               ep.ID,
		"group_id":           ep.GroupID,
		"name":               ep.Name,
		"content":            ep.Content,
		"source":             string(ep.Source),
		"source_description": ep.SourceDescription,
		"payload":            jsonString(ep.Payload),
		"valid_at":           unixMicros(ep.ValidAt),
		"created_at":         unixMicros(ep.CreatedAt),
	}
}

func nodeProps(n *types.EntityNode) map[string]any {
	return map[string]any{
		"uuid":           n.ID,
		"group_id":       n.GroupID,
		"name":           n.Name,
		"labels":         jsonString(n.Labels),
		"attributes":     jsonString(n.Attributes),
		"summary":        n.Summary,
		"name_embedding": jsonString(n.NameEmbedding),
		"created_at":     unixMicros(n.CreatedAt),
		"updated_at":     unixMicros(n.UpdatedAt),
	}
}

func edgeProps(e *types.EntityEdge) map[string]any {
	var invalidAt any
	if e.InvalidAt != nil {
		invalidAt = unixMicros(*e.InvalidAt)
	}
	return map[string]any{
		"uuid":           e.ID,
		"group_id":       e.GroupID,
		"source_id":      e.SourceID,
		"target_id":      e.TargetID,
		"label":          e.Label,
		"fact":           e.Fact,
		"fact_embedding": jsonString(e.FactEmbedding),
		"valid_at":       unixMicros(e.ValidAt),
		"invalid_at":     invalidAt,
		"created_at":     unixMicros(e.CreatedAt),
		"episode_id":     e.EpisodeID,
		"episodes":       jsonString(e.Episodes),
	}
}

// propReader accumulates the first conversion failure so decoders read like
// straight-line field assignments.
type propReader struct {
	m   map[string]any
	err error
}

func (r *propReader) str(key string) string {
	v, ok := r.m[key]
	if !ok || v == nil {
		return ""
	}
	s, err := MustString(v, key)
	if err != nil && r.err == nil {
		r.err = err
	}
	return s
}

func (r *propReader) time(key string) time.Time {
	v, ok := r.m[key]
	if !ok || v == nil {
		return time.Time{}
	}
	n, err := MustInt64(v, key)
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return time.Time{}
	}
	return fromMicros(n)
}

func (r *propReader) optTime(key string) *time.Time {
	if v, ok := r.m[key]; !ok || v == nil {
		return nil
	}
	t := r.time(key)
	return &t
}

func (r *propReader) json(key string, dst any) {
	s := r.str(key)
	if s == "" || s == "null" {
		return
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil && r.err == nil {
		r.err = NewTypeConversionError("json", err.Error(), key)
	}
}

// strings reads a list property stored either natively (graphs written by
// other tools) or as JSON text.
func (r *propReader) strings(key string, dst *[]string) {
	if list, ok := AsStringSlice(r.m[key]); ok {
		*dst = list
		return
	}
	r.json(key, dst)
}

func decodeEpisode(m map[string]any) (*types.EpisodicNode, error) {
	r := &propReader{m: m}
	ep := &types.EpisodicNode{
		ID:                r.str("uuid"),
		GroupID:           r.str("group_id"),
		Name:              r.str("name"),
		Content:           r.str("content"),
		Source:            types.EpisodeType(r.str("source")),
		SourceDescription: r.str("source_description"),
		ValidAt:           r.time("valid_at"),
		CreatedAt:         r.time("created_at"),
	}
	r.json("payload", &ep.Payload)
	return ep, r.err
}

func decodeNode(m map[string]any) (*types.EntityNode, error) {
	r := &propReader{m: m}
	n := &types.EntityNode{
		ID:        r.str("uuid"),
		GroupID:   r.str("group_id"),
		Name:      r.str("name"),
		Summary:   r.str("summary"),
		CreatedAt: r.time("created_at"),
		UpdatedAt: r.time("updated_at"),
	}
	r.strings("labels", &n.Labels)
	r.json("attributes", &n.Attributes)
	r.json("name_embedding", &n.NameEmbedding)
	return n, r.err
}

func decodeEdge(m map[string]any) (*types.EntityEdge, error) {
	r := &propReader{m: m}
	e := &types.EntityEdge{
		ID:        r.str("uuid"),
		GroupID:   r.str("group_id"),
		SourceID:  r.str("source_id"),
		TargetID:  r.str("target_id"),
		Label:     r.str("label"),
		Fact:      r.str("fact"),
		ValidAt:   r.time("valid_at"),
		InvalidAt: r.optTime("invalid_at"),
		CreatedAt: r.time("created_at"),
		EpisodeID: r.str("episode_id"),
	}
	r.json("fact_embedding", &e.FactEmbedding)
	r.strings("episodes", &e.Episodes)
	return e, r.err
}

// rowMap pairs column names with a positional row.
func rowMap(cols []string, row []any) map[string]any {
	m := make(map[string]any, len(cols))
	for i, c := range cols {
		if i < len(row) {
			m[c] = row[i]
		}
	}
	return m
}
