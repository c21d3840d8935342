package search

import "math"

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25Scores scores every tokenized document against the query terms.
// Document frequencies and the average length are taken from docs, so
// scores are only comparable within one call. Repeated query terms count
// once.
func BM25Scores(query []string, docs [][]string) []float64 {
	scores := make([]float64, len(docs))
	if len(query) == 0 || len(docs) == 0 {
		return scores
	}

	terms := make([]string, 0, len(query))
	seen := make(map[string]struct{}, len(query))
	for _, t := range query {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	totalLen := 0
	freqs := make([]map[string]int, len(docs))
	df := make(map[string]int, len(terms))
	for i, doc := range docs {
		totalLen += len(doc)
		tf := make(map[string]int)
		for _, tok := range doc {
			if _, ok := seen[tok]; ok {
				tf[tok]++
			}
		}
		for t := range tf {
			df[t]++
		}
		freqs[i] = tf
	}
	if totalLen == 0 {
		return scores
	}
	avgLen := float64(totalLen) / float64(len(docs))
	n := float64(len(docs))

	for i, doc := range docs {
		dl := float64(len(doc))
		for _, t := range terms {
			f := float64(freqs[i][t])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[t])+0.5)/(float64(df[t])+0.5))
			scores[i] += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/avgLen))
		}
	}
	return scores
}
