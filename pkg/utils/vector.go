package utils

import (
	"cmp"
	"math"
	"slices"
)

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Mismatched, empty or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i, x := range a {
		y := float64(b[i])
		dot += float64(x) * y
		na += float64(x) * float64(x)
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return max(-1, min(1, dot/math.Sqrt(na*nb)))
}

// ScoredItem pairs a value with its ranking score.
type ScoredItem[T any] struct {
	Item  T
	Score float64
}

// TopKByScore returns the k highest-scoring items, best first. Equal scores
// keep their input order. k <= 0 sorts everything.
func TopKByScore[T any](items []ScoredItem[T], k int) []ScoredItem[T] {
	if len(items) == 0 {
		return nil
	}
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b ScoredItem[T]) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if k > 0 && k < len(out) {
		out = out[:k:k]
	}
	return out
}
