// Package simd provides the squared Euclidean kernels used by the
// neighbour search structures.
//
// The kernels are written in Go. CPU feature detection (golang.org/x/sys/cpu)
// picks between a scalar loop and multi-accumulator unrolled loops that keep
// the wide FP units of modern cores busy. Set TSNEGO_SIMD to "scalar",
// "unroll4" or "unroll8" to force a variant.
package simd
