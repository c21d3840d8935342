package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// FormatEdgeDateRange formats the validity window of an edge for display.
func FormatEdgeDateRange(edge *types.EntityEdge) string {
	validAt := "date unknown"
	if !edge.ValidAt.IsZero() {
		validAt = edge.ValidAt.Format(time.RFC3339)
	}
	invalidAt := "present"
	if edge.InvalidAt != nil {
		invalidAt = edge.InvalidAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s - %s", validAt, invalidAt)
}

type contextFact struct {
	Fact  string  `json:"fact"`
	Valid string  `json:"valid"`
	Score float64 `json:"score"`
}

type contextEntity struct {
	Name    string  `json:"entity_name"`
	Summary string  `json:"summary,omitempty"`
	Score   float64 `json:"score"`
}

// ResultsToContextString renders search results as a block of facts and
// entities that can be handed to a language model as context.
func ResultsToContextString(results *types.SearchResults) (string, error) {
	facts := []contextFact{}
	entities := []contextEntity{}
	for _, it := range results.Items {
		switch it.Kind {
		case types.EdgeResult:
			facts = append(facts, contextFact{Fact: it.Edge.Fact, Valid: FormatEdgeDateRange(it.Edge), Score: it.Score})
		case types.NodeResult:
			entities = append(entities, contextEntity{Name: it.Node.Name, Summary: it.Node.Summary, Score: it.Score})
		}
	}

	factJSON, err := toPromptJSON(facts, 4)
	if err != nil {
		return "", fmt.Errorf("failed to marshal facts: %w", err)
	}
	entityJSON, err := toPromptJSON(entities, 4)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entities: %w", err)
	}

	var b strings.Builder
	b.WriteString("FACTS and ENTITIES represent relevant context to the current conversation.\n")
	b.WriteString("Each fact holds over its valid range; a range ending in \"present\" is still valid.\n")
	if results.Degraded {
		b.WriteString("Some retrieval strategies were unavailable; results may be incomplete.\n")
	}
	fmt.Fprintf(&b, "<FACTS>\n%s\n</FACTS>\n<ENTITIES>\n%s\n</ENTITIES>", factJSON, entityJSON)
	return b.String(), nil
}

// toPromptJSON marshals data with every line indented.
func toPromptJSON(data any, indent int) (string, error) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	pad := strings.Repeat(" ", indent)
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n"), nil
}
