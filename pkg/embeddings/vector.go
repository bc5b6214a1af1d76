// Package embeddings holds the vector math used for retrieval: unit normalization, cosine
// similarity and top-k ranking over in-memory candidates.
package embeddings

import "math"

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place. A zero vector is left untouched and
// reported as false.
func Normalize(v []float32) bool {
	n := Norm(v)
	if n == 0 {
		return false
	}

	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}

	return true
}

// FromFloat64 converts a provider vector to float32 and normalizes it.
func FromFloat64(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	Normalize(out)

	return out
}

// Cosine returns dot(a, b) / (|a| * |b|).
// A zero vector or a length mismatch yields NaN so callers can drop the score.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	return dot / (Norm(a) * Norm(b))
}
