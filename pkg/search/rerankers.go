package search

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
)

// fused accumulates one item's combined score.
type fused struct {
	item  types.ResultItem
	score float64
}

// normalizedWeights scales the weights of the surviving strategies to sum to 1.
func normalizedWeights(results []strategyResult) []float64 {
	total := 0.0
	for _, r := range results {
		total += r.weight
	}
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.weight / total
	}
	return out
}

// dedupeMax keeps the highest score for each item, in first-seen order.
func dedupeMax(items []candidate) []candidate {
	index := make(map[string]int, len(items))
	out := make([]candidate, 0, len(items))
	for _, c := range items {
		k := itemKey(c.item)
		if i, ok := index[k]; ok {
			if c.score > out[i].score {
				out[i].score = c.score
			}
			continue
		}
		index[k] = len(out)
		out = append(out, c)
	}
	return out
}

// minMaxNormalize maps scores onto [0,1]. When every score is equal the
// result is 1 for positive scores and 0 otherwise.
func minMaxNormalize(items []candidate) []float64 {
	out := make([]float64, len(items))
	if len(items) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range items {
		lo = min(lo, c.score)
		hi = max(hi, c.score)
	}
	for i, c := range items {
		switch {
		case hi == lo && hi > 0:
			out[i] = 1
		case hi == lo:
			out[i] = 0
		default:
			out[i] = (c.score - lo) / (hi - lo)
		}
	}
	return out
}

// fuseWeighted combines the strategies as a weighted sum of min-max
// normalized scores. Every fused score lies in [0,1].
func fuseWeighted(results []strategyResult) []types.ResultItem {
	weights := normalizedWeights(results)
	acc := make(map[string]*fused)
	var order []string
	for i, r := range results {
		items := dedupeMax(r.items)
		norm := minMaxNormalize(items)
		for j, c := range items {
			k := itemKey(c.item)
			f, ok := acc[k]
			if !ok {
				f = &fused{item: c.item}
				acc[k] = f
				order = append(order, k)
			}
			f.score += weights[i] * norm[j]
		}
	}
	return sortFused(acc, order)
}

// fuseRRF combines the strategies by weighted reciprocal rank. Scores are
// scaled so an item ranked first by every strategy scores 1.
func fuseRRF(results []strategyResult, rankConstant int) []types.ResultItem {
	if rankConstant <= 0 {
		rankConstant = DefaultRankConstant
	}
	weights := normalizedWeights(results)
	k := float64(rankConstant)
	acc := make(map[string]*fused)
	var order []string
	for i, r := range results {
		items := dedupeMax(r.items)
		slices.SortStableFunc(items, func(a, b candidate) int { return cmp.Compare(b.score, a.score) })
		for rank, c := range items {
			key := itemKey(c.item)
			f, ok := acc[key]
			if !ok {
				f = &fused{item: c.item}
				acc[key] = f
				order = append(order, key)
			}
			f.score += weights[i] * (k + 1) / (k + float64(rank+1))
		}
	}
	return sortFused(acc, order)
}

// sortFused orders by score descending, then kind, then ID.
func sortFused(acc map[string]*fused, order []string) []types.ResultItem {
	out := make([]types.ResultItem, 0, len(order))
	for _, k := range order {
		f := acc[k]
		it := f.item
		it.Score = f.score
		out = append(out, it)
	}
	slices.SortStableFunc(out, compareItems)
	return out
}

func compareItems(a, b types.ResultItem) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	return cmp.Compare(a.ID(), b.ID())
}

// rerank asks the reranker to reorder the first topN items. Reranked items
// take the reranker's score and precede the rest, which keep fused order.
func (s *HybridSearcher) rerank(ctx context.Context, query string, items []types.ResultItem, topN int) ([]types.ResultItem, error) {
	head := items
	if topN < len(items) {
		head = items[:topN]
	}
	passages := make([]string, len(head))
	for i, it := range head {
		passages[i] = it.Text()
	}

	ranked, err := s.reranker.Rank(ctx, query, passages)
	if err != nil {
		return nil, errkind.Wrap(errkind.Rerank, "search.rerank", err)
	}
	if len(ranked) != len(head) {
		return nil, errkind.Ef(errkind.Rerank, "search.rerank", "reranker returned %d passages for %d", len(ranked), len(head))
	}

	out := make([]types.ResultItem, 0, len(items))
	used := make([]bool, len(head))
	for _, rp := range ranked {
		if rp.Index < 0 || rp.Index >= len(head) || used[rp.Index] {
			return nil, errkind.Ef(errkind.Rerank, "search.rerank", "reranker returned invalid index %d", rp.Index)
		}
		used[rp.Index] = true
		it := head[rp.Index]
		it.Score = clampScore(rp.Score)
		out = append(out, it)
	}
	slices.SortStableFunc(out, func(a, b types.ResultItem) int { return cmp.Compare(b.Score, a.Score) })
	return append(out, items[len(head):]...), nil
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(0, min(1, v))
}
