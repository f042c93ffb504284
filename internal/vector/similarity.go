// Package vector provides the vector math used by the note index: norms,
// normalization and cosine similarity.
package vector

import "math"

// InnerProduct returns the dot product of two vectors of equal length.
// Vectors of different length yield 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalize returns a copy of x scaled to unit length.
// A zero vector has no direction and is returned unchanged.
func Normalize(x []float32) []float32 {
	out := make([]float32, len(x))
	copy(out, x)
	norm := L2Norm(x)
	if norm == 0 {
		return out
	}
	inv := 1 / norm
	for i := range out {
		out[i] = float32(float64(out[i]) * inv)
	}
	return out
}

// CosineSimilarity returns dot(a,b) / (|a| * |b|). It fails with
// *ErrDimensionMismatch when the lengths differ and returns 0 when either
// vector has zero norm.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	var dot, aa, bb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		aa += x * x
		bb += y * y
	}
	denom := math.Sqrt(aa) * math.Sqrt(bb)
	if denom == 0 {
		return 0, nil
	}
	return dot / denom, nil
}

// NormalizedCosineSimilarity computes cosine similarity from precomputed norms,
// avoiding an O(D) norm recomputation per comparison. Callers must ensure the
// vectors have equal length.
func NormalizedCosineSimilarity(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
