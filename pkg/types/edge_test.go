package types

import (
	"testing"
	"time"
)

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func TestEntityEdgeValidate(t *testing.T) {
	t.Parallel()
	end := day(1)
	tests := []struct {
		name string
		edge EntityEdge
		want error
	}{
		{"valid", EntityEdge{ID: "e", GroupID: "g", SourceID: "a", TargetID: "b", Label: "L", ValidAt: day(2)}, nil},
		{"missing id", EntityEdge{GroupID: "g", SourceID: "a", TargetID: "b", Label: "L", ValidAt: day(2)}, ErrEmptyID},
		{"missing group", EntityEdge{ID: "e", SourceID: "a", TargetID: "b", Label: "L", ValidAt: day(2)}, ErrEmptyGroupID},
		{"missing endpoint", EntityEdge{ID: "e", GroupID: "g", SourceID: "a", Label: "L", ValidAt: day(2)}, ErrEmptyEndpoint},
		{"missing label", EntityEdge{ID: "e", GroupID: "g", SourceID: "a", TargetID: "b", ValidAt: day(2)}, ErrEmptyLabel},
		{"missing valid_at", EntityEdge{ID: "e", GroupID: "g", SourceID: "a", TargetID: "b", Label: "L"}, ErrMissingValid},
		{"window reversed", EntityEdge{ID: "e", GroupID: "g", SourceID: "a", TargetID: "b", Label: "L", ValidAt: day(2), InvalidAt: &end}, ErrInvalidWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.edge.Validate(); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntityEdgeValidAsOf(t *testing.T) {
	t.Parallel()
	end := day(10)
	edge := EntityEdge{ValidAt: day(1), InvalidAt: &end}

	cases := map[int]bool{0: false, 1: true, 5: true, 9: true, 10: false, 11: false}
	for d, want := range cases {
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d-1)
		if got := edge.ValidAsOf(at); got != want {
			t.Errorf("ValidAsOf(day %d) = %v, want %v", d, got, want)
		}
	}

	open := EntityEdge{ValidAt: day(1)}
	if !open.ValidAsOf(day(28)) {
		t.Error("open edge should be valid after its start")
	}
}

func TestEntityEdgeCloneIsDeep(t *testing.T) {
	t.Parallel()
	end := day(3)
	e := &EntityEdge{ID: "e", InvalidAt: &end, Episodes: []string{"ep1"}, FactEmbedding: []float32{1}}
	cp := e.Clone()
	cp.Episodes[0] = "changed"
	cp.FactEmbedding[0] = 2
	*cp.InvalidAt = day(4)

	if e.Episodes[0] != "ep1" || e.FactEmbedding[0] != 1 || !e.InvalidAt.Equal(day(3)) {
		t.Error("Clone shares state with the original")
	}
}

func TestNormalizeLabel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"works at":   "WORKS_AT",
		"WORKS_AT":   "WORKS_AT",
		" works-at ": "WORKS_AT",
		"":           "",
	} {
		if got := NormalizeLabel(in); got != want {
			t.Errorf("NormalizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractionResultNormalize(t *testing.T) {
	t.Parallel()
	r := &ExtractionResult{
		Entities: []CandidateEntity{
			{Name: " Alice "},
			{Name: "alice", Summary: "an engineer"},
			{Name: ""},
		},
		Edges: []CandidateEdge{
			{SourceName: "Alice", TargetName: "Acme", Label: "works at"},
			{SourceName: "Alice", TargetName: "", Label: "knows"},
			{SourceName: "Alice", TargetName: "Bob", Label: ""},
		},
	}
	r.Normalize()

	if len(r.Entities) != 2 {
		t.Fatalf("expected Alice and Acme, got %+v", r.Entities)
	}
	if r.Entities[0].Name != "Alice" || r.Entities[0].Summary != "an engineer" {
		t.Errorf("unexpected merged entity %+v", r.Entities[0])
	}
	if r.Entities[1].Name != "Acme" {
		t.Errorf("expected endpoint Acme to be added, got %q", r.Entities[1].Name)
	}
	if len(r.Edges) != 1 || r.Edges[0].Label != "WORKS_AT" {
		t.Fatalf("unexpected edges %+v", r.Edges)
	}
	if r.Edges[0].Fact != "Alice works at Acme" {
		t.Errorf("unexpected synthesized fact %q", r.Edges[0].Fact)
	}
}
