// Package probability computes the high-dimensional affinities of an
// embedding run.
//
// For every point the k = perplexity·multiplier nearest neighbours are
// found, either exactly with a vantage-point tree or approximately with a
// randomized KD forest, and a Gaussian bandwidth is calibrated so the
// entropy of the neighbour distribution matches the perplexity. The rows
// are then symmetrized into an affinity.Matrix.
package probability
