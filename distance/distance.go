// Package distance provides public API for the distance calculations used by
// the embedding pipeline.
package distance

import (
	"math"

	"github.com/hupe1980/tsnego/internal/simd"
)

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	return simd.SquaredL2(a, b)
}

// L2 calculates the Euclidean distance between two vectors.
// Metric trees need the true metric: squared distances violate the
// triangle inequality.
func L2(a, b []float32) float32 {
	return float32(math.Sqrt(float64(simd.SquaredL2(a, b))))
}

// SquaredL2Embedding is the squared distance between two points of a
// low-dimensional embedding stored as float64.
func SquaredL2Embedding(a, b []float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}
