// Package distance provides vector distance calculations.
//
// High-dimensional input rows are float32; the kernels are selected at
// start-up by internal/simd based on the CPU features available.
//
// # Usage
//
//	d2 := distance.SquaredL2(a, b)
//	d := distance.L2(a, b)
package distance
