// Package testutil provides testing utilities for tsnego.
//
// This package is intended for use in tests, benchmarks and examples only.
// It provides a deterministic RNG, synthetic clustered datasets, brute-force
// nearest neighbours and recall computation.
//
//	rng := testutil.NewRNG(seed)
//	data, labels := rng.GaussianClusters(300, 16, 3, 10, 0.5)
//	truth := testutil.ExactKNN(data, 16, 0, 10)
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
