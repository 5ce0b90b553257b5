// Package similarity provides cosine similarity over embedding vectors.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors have different lengths.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Cosine returns the cosine similarity of a and b in [-1, 1].
//
// It returns 0 (not an error) when either vector has zero norm, and
// ErrDimensionMismatch when the lengths differ.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return clip(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// CosineBatch scores every document vector against query.
//
// The result has one entry per document in the same order. Zero-norm or
// NaN-producing vectors score 0, documents whose length differs from the
// query score 0, and every score is clipped to [-1, 1]. An empty document
// list yields an empty, non-nil slice.
func CosineBatch(query []float32, docs [][]float32) []float64 {
	scores := make([]float64, len(docs))
	if len(docs) == 0 {
		return scores
	}

	var qNorm float64
	for _, v := range query {
		qNorm += float64(v) * float64(v)
	}
	qNorm = math.Sqrt(qNorm)

	for i, doc := range docs {
		if len(doc) != len(query) || qNorm == 0 {
			continue
		}
		var dot, dNorm float64
		for j := range doc {
			y := float64(doc[j])
			dot += float64(query[j]) * y
			dNorm += y * y
		}
		s := dot / (qNorm * math.Sqrt(dNorm))
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		scores[i] = clip(s)
	}
	return scores
}

func clip(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
