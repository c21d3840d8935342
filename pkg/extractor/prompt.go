package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

const systemPrompt = `You are an expert knowledge-graph builder. You extract the entities mentioned in a message and the factual relationships between them, with the time each fact became true or stopped being true.
Treat the REFERENCE TIME as the time the CURRENT MESSAGE was sent. All temporal information should be extracted relative to this time.`

const taskPrompt = `# TASK
1. Extract every significant entity (person, organization, place, product, concept, event) explicitly or implicitly mentioned in the CURRENT MESSAGE.
   - Use full, unambiguous names. If an entity matches one of the KNOWN ENTITIES, use the known name exactly.
   - Do not extract relationships, actions, dates or times as entities.
   - Give each entity one or more labels (e.g. Person, Organization) and a one-sentence summary of what the message says about it.
2. Extract every factual relationship between two DISTINCT extracted entities that is clearly stated or unambiguously implied by the CURRENT MESSAGE.
   - Use a SCREAMING_SNAKE_CASE relation type (e.g. WORKS_AT, FOUNDED, LIVES_IN).
   - The fact should quote or closely paraphrase the source sentence and use entity names rather than pronouns.
   - Do not emit duplicate or semantically redundant facts.

You may use PREVIOUS MESSAGES only to disambiguate references.

# DATETIME RULES
- Use ISO 8601 with "Z" suffix (UTC), e.g. 2025-04-30T00:00:00Z.
- If the fact is ongoing (present tense), set valid_at to the REFERENCE TIME.
- If a change or termination is expressed, set invalid_at to the relevant timestamp.
- Leave both null if no explicit or resolvable time is stated.
- If only a date is mentioned, assume 00:00:00. If only a year is mentioned, use January 1st.
- Do not infer temporal bounds from unrelated events.

# OUTPUT
Respond with a single JSON object and nothing else:
{
  "entities": [{"name": "...", "labels": ["..."], "summary": "...", "attributes": {"key": "value"}}],
  "edges": [{"source": "entity name", "target": "entity name", "relation_type": "WORKS_AT", "fact": "...", "valid_at": "ISO 8601 or null", "invalid_at": "ISO 8601 or null"}]
}`

const continuationPrompt = "The JSON response was incomplete or invalid. Respond again with the complete JSON object only."

// buildMessages renders the extraction prompt for req.
func buildMessages(req Request) []types.Message {
	ep := req.Episode
	var b strings.Builder

	if len(req.PreviousEpisodes) > 0 {
		b.WriteString("<PREVIOUS MESSAGES>\n")
		for _, p := range req.PreviousEpisodes {
			b.WriteString(p.Content)
			b.WriteString("\n")
		}
		b.WriteString("</PREVIOUS MESSAGES>\n\n")
	}

	if len(req.ContextEntities) > 0 {
		b.WriteString("<KNOWN ENTITIES>\n")
		for _, n := range req.ContextEntities {
			b.WriteString(n.Name)
			if len(n.Labels) > 0 {
				b.WriteString("\t")
				b.WriteString(strings.Join(n.Labels, ","))
			}
			b.WriteString("\n")
		}
		b.WriteString("</KNOWN ENTITIES>\n\n")
	}

	fmt.Fprintf(&b, "<CURRENT MESSAGE source=%q>\n%s\n</CURRENT MESSAGE>\n\n", ep.Source, episodeText(ep))
	if ep.SourceDescription != "" {
		fmt.Fprintf(&b, "<SOURCE DESCRIPTION>\n%s\n</SOURCE DESCRIPTION>\n\n", ep.SourceDescription)
	}
	fmt.Fprintf(&b, "<REFERENCE TIME>\n%s\n</REFERENCE TIME>\n\n", ep.ValidAt.UTC().Format(time.RFC3339))
	b.WriteString(taskPrompt)

	return []types.Message{
		nlp.NewSystemMessage(systemPrompt),
		nlp.NewUserMessage(b.String()),
	}
}

// episodeText renders json episodes from their payload when it is present.
func episodeText(ep *types.EpisodicNode) string {
	if ep.Source == types.JSONEpisodeType && len(ep.Payload) > 0 {
		if data, err := json.MarshalIndent(ep.Payload, "", "  "); err == nil {
			return string(data)
		}
	}
	return ep.Content
}
