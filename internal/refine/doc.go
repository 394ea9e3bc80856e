// Package refine raises the neighbour precision of affinity rows in the
// background while the optimizer runs.
//
// A Refiner recomputes a single row from a better neighbour index; a
// Strategy decides which rows to refine and in which order. Refined rows are
// published whole with affinity.Matrix.ReplaceRow.
package refine
