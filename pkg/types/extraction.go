package types

import (
	"strings"
	"time"
)

// CandidateEntity is an entity proposed by an extractor, before deduplication.
type CandidateEntity struct {
	Name       string         `json:"name"`
	Labels     []string       `json:"labels,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Summary    string         `json:"summary,omitempty"`
}

// CandidateEdge is a relationship proposed by an extractor. Endpoints refer to
// candidate entity names, not node ids.
type CandidateEdge struct {
	SourceName string `json:"source"`
	TargetName string `json:"target"`
	Label      string `json:"label"`
	Fact       string `json:"fact"`

	// ValidAt and InvalidAt are optional; the episode's time is used when
	// ValidAt is absent.
	ValidAt   *time.Time `json:"valid_at,omitempty"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
}

// ExtractionResult is returned by an extractor for one episode.
type ExtractionResult struct {
	Entities []CandidateEntity `json:"entities"`
	Edges    []CandidateEdge   `json:"edges"`
}

// Normalize trims names, drops entities without a name, collapses duplicate
// entity names (case-insensitive, first wins, attributes merged) and drops
// edges whose endpoints are unknown or that have no label. Missing endpoints
// named by an edge are added as bare entities.
func (r *ExtractionResult) Normalize() {
	if r == nil {
		return
	}
	index := make(map[string]int, len(r.Entities))
	entities := make([]CandidateEntity, 0, len(r.Entities))
	for _, e := range r.Entities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		key := strings.ToLower(e.Name)
		if i, ok := index[key]; ok {
			for k, v := range e.Attributes {
				if entities[i].Attributes == nil {
					entities[i].Attributes = map[string]any{}
				}
				if _, exists := entities[i].Attributes[k]; !exists {
					entities[i].Attributes[k] = v
				}
			}
			if len(e.Summary) > len(entities[i].Summary) {
				entities[i].Summary = e.Summary
			}
			continue
		}
		index[key] = len(entities)
		entities = append(entities, e)
	}

	edges := make([]CandidateEdge, 0, len(r.Edges))
	for _, e := range r.Edges {
		e.SourceName = strings.TrimSpace(e.SourceName)
		e.TargetName = strings.TrimSpace(e.TargetName)
		e.Label = NormalizeLabel(e.Label)
		if e.SourceName == "" || e.TargetName == "" || e.Label == "" {
			continue
		}
		for _, name := range []string{e.SourceName, e.TargetName} {
			key := strings.ToLower(name)
			if _, ok := index[key]; !ok {
				index[key] = len(entities)
				entities = append(entities, CandidateEntity{Name: name})
			}
		}
		if strings.TrimSpace(e.Fact) == "" {
			e.Fact = e.SourceName + " " + strings.ToLower(strings.ReplaceAll(e.Label, "_", " ")) + " " + e.TargetName
		}
		edges = append(edges, e)
	}

	r.Entities = entities
	r.Edges = edges
}
