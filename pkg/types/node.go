package types

import (
	"maps"
	"slices"
	"time"
)

// EpisodicNode is one ingested unit of input. It is written once and only
// referenced afterwards.
type EpisodicNode struct {
	ID                string         `json:"id"`
	GroupID           string         `json:"group_id"`
	Name              string         `json:"name"`
	Content           string         `json:"content"`
	Source            EpisodeType    `json:"source"`
	SourceDescription string         `json:"source_description,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`

	// ValidAt is the declared time of the event the episode describes.
	ValidAt time.Time `json:"valid_at"`
	// CreatedAt is when the system ingested the episode.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the EpisodicNode has all required fields set.
func (e *EpisodicNode) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	if e.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// EntityNode is a deduplicated real-world entity.
type EntityNode struct {
	ID            string         `json:"id"`
	GroupID       string         `json:"group_id"`
	Name          string         `json:"name"`
	Labels        []string       `json:"labels,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	NameEmbedding []float32      `json:"name_embedding,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate checks if the EntityNode has all required fields set.
func (n *EntityNode) Validate() error {
	if n.ID == "" {
		return ErrEmptyID
	}
	if n.Name == "" {
		return ErrEmptyName
	}
	if n.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// Clone returns a deep copy of the node.
func (n *EntityNode) Clone() *EntityNode {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Labels = slices.Clone(n.Labels)
	cp.Attributes = maps.Clone(n.Attributes)
	cp.NameEmbedding = slices.Clone(n.NameEmbedding)
	return &cp
}

// Merge folds a later sighting of the same entity into n and reports whether
// anything changed. Attributes are added or overwritten but never removed,
// labels are unioned, and the summary is replaced only by a longer one.
func (n *EntityNode) Merge(other *EntityNode, at time.Time) bool {
	if other == nil {
		return false
	}
	changed := false

	for _, l := range other.Labels {
		if !slices.Contains(n.Labels, l) {
			n.Labels = append(n.Labels, l)
			changed = true
		}
	}

	for k, v := range other.Attributes {
		if old, ok := n.Attributes[k]; ok && equalAttr(old, v) {
			continue
		}
		if n.Attributes == nil {
			n.Attributes = make(map[string]any, len(other.Attributes))
		}
		n.Attributes[k] = v
		changed = true
	}

	if len(other.Summary) > len(n.Summary) {
		n.Summary = other.Summary
		changed = true
	}

	if len(n.NameEmbedding) == 0 && len(other.NameEmbedding) > 0 {
		n.NameEmbedding = slices.Clone(other.NameEmbedding)
		changed = true
	}

	if changed && at.After(n.UpdatedAt) {
		n.UpdatedAt = at
	}
	return changed
}

func equalAttr(a, b any) bool {
	switch av := a.(type) {
	case string, bool, int, int64, float64:
		return av == b
	default:
		return false
	}
}
