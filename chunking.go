package chronograph

import "strings"

// chunkText splits text into pieces of at most maxChars bytes. Paragraphs
// ("\n\n") are kept whole where they fit; longer paragraphs are split at
// sentence, line or word boundaries.
func chunkText(text string, maxChars int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		if len(para) > maxChars {
			flush()
			chunks = append(chunks, splitParagraph(para, maxChars)...)
			continue
		}
		sep := 0
		if cur.Len() > 0 {
			sep = 2
		}
		if cur.Len()+sep+len(para) > maxChars {
			flush()
			sep = 0
		}
		if sep > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}

// splitParagraph breaks one oversized paragraph. A break point must leave at
// least a third of maxChars in the chunk, so no tiny fragments are produced.
func splitParagraph(para string, maxChars int) []string {
	var chunks []string
	rest := para
	minChunk := maxChars / 3
	for len(rest) > maxChars {
		window := rest[:maxChars]
		cut := maxChars
		for _, sep := range []string{". ", "! ", "? ", "\n", " "} {
			if i := strings.LastIndex(window, sep); i > minChunk {
				cut = i + len(sep)
				break
			}
		}
		if s := strings.TrimSpace(rest[:cut]); s != "" {
			chunks = append(chunks, s)
		}
		rest = rest[cut:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
