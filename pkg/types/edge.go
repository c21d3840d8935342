package types

import (
	"slices"
	"strings"
	"time"
)

// EntityEdge is a temporal fact between two entities.
type EntityEdge struct {
	ID            string    `json:"id"`
	GroupID       string    `json:"group_id"`
	SourceID      string    `json:"source_id"`
	TargetID      string    `json:"target_id"`
	Label         string    `json:"label"`
	Fact          string    `json:"fact"`
	FactEmbedding []float32 `json:"fact_embedding,omitempty"`

	// ValidAt is when the fact became true.
	ValidAt time.Time `json:"valid_at"`
	// InvalidAt is when the fact stopped being true; nil means still valid.
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
	// CreatedAt is when the system learned the fact.
	CreatedAt time.Time `json:"created_at"`

	// EpisodeID is the episode the edge was extracted from.
	EpisodeID string `json:"episode_id"`
	// Episodes lists every episode that asserted the fact, EpisodeID first.
	Episodes []string `json:"episodes,omitempty"`
}

// Validate checks the edge's required fields and its validity window.
func (e *EntityEdge) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	if e.SourceID == "" || e.TargetID == "" {
		return ErrEmptyEndpoint
	}
	if e.Label == "" {
		return ErrEmptyLabel
	}
	if e.ValidAt.IsZero() {
		return ErrMissingValid
	}
	if e.InvalidAt != nil && e.InvalidAt.Before(e.ValidAt) {
		return ErrInvalidWindow
	}
	return nil
}

// IsOpen reports whether the edge has no end of validity.
func (e *EntityEdge) IsOpen() bool {
	return e.InvalidAt == nil
}

// ValidAsOf reports whether the fact held at t: it started at or before t and
// had not ended by t.
func (e *EntityEdge) ValidAsOf(t time.Time) bool {
	if e.ValidAt.After(t) {
		return false
	}
	return e.InvalidAt == nil || e.InvalidAt.After(t)
}

// Key returns the (group, source, target, label) identity under which at most
// one edge may be open.
func (e *EntityEdge) Key() EdgeKey {
	return EdgeKey{GroupID: e.GroupID, SourceID: e.SourceID, TargetID: e.TargetID, Label: NormalizeLabel(e.Label)}
}

// HasEpisode reports whether the episode is already in the provenance list.
func (e *EntityEdge) HasEpisode(id string) bool {
	return e.EpisodeID == id || slices.Contains(e.Episodes, id)
}

// Clone returns a deep copy of the edge.
func (e *EntityEdge) Clone() *EntityEdge {
	if e == nil {
		return nil
	}
	cp := *e
	cp.FactEmbedding = slices.Clone(e.FactEmbedding)
	cp.Episodes = slices.Clone(e.Episodes)
	if e.InvalidAt != nil {
		t := *e.InvalidAt
		cp.InvalidAt = &t
	}
	return &cp
}

// EdgeKey identifies the set of edges the temporal resolver serializes on.
type EdgeKey struct {
	GroupID  string
	SourceID string
	TargetID string
	Label    string
}

func (k EdgeKey) String() string {
	return k.GroupID + "|" + k.SourceID + "|" + k.TargetID + "|" + k.Label
}

// NormalizeLabel upper-cases a relationship label and joins words with
// underscores, so "works at" and "WORKS_AT" name the same relation.
func NormalizeLabel(label string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(label), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	})
	return strings.ToUpper(strings.Join(fields, "_"))
}
