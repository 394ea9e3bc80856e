// Package divergence estimates the Kullback–Leibler divergence between the
// high-dimensional affinities and the distribution induced by an embedding.
package divergence

import (
	"context"
	"math"

	"github.com/hupe1980/tsnego/distance"
	"github.com/hupe1980/tsnego/internal/affinity"
	"github.com/hupe1980/tsnego/internal/sptree"
)

// floatMin is the smallest normal float32, added to both sides of the log
// ratio to keep it finite.
const floatMin = 1.1754943508222875e-38

// Result holds the total divergence and the extremes of the per-point
// contributions.
type Result struct {
	Total float64
	Min   float64
	Max   float64
}

func newResult() Result {
	return Result{Min: math.Inf(1), Max: math.Inf(-1)}
}

func (r *Result) add(pointError float64) {
	r.Total += pointError
	r.Min = min(r.Min, pointError)
	r.Max = max(r.Max, pointError)
}

// Compute returns the Barnes–Hut divergence of the embedding given the
// partition function sumQ. Only symmetric neighbours contribute; p is the
// non-exaggerated joint probability.
func Compute(m *affinity.Matrix, solution []float64, dims int, sumQ float64) Result {
	res := newResult()
	n := m.NumPoints()
	if n == 0 || sumQ <= 0 {
		return Result{}
	}
	for i := range n {
		id := uint32(i)
		yi := solution[i*dims : (i+1)*dims]
		var pointError float64
		for _, e := range m.Symmetric(id) {
			j := int(e.Index)
			q := 1 / (1 + distance.SquaredL2Embedding(yi, solution[j*dims:(j+1)*dims])) / sumQ
			p := m.JointProbability(id, e, false)
			pointError += p * math.Log((p+floatMin)/(q+floatMin))
		}
		res.add(pointError)
	}
	return res
}

// ComputeWithTree computes a fresh partition function with a Barnes–Hut pass
// and returns the divergence.
func ComputeWithTree(ctx context.Context, m *affinity.Matrix, solution []float64, dims int, theta float64, workers int) (Result, error) {
	n := m.NumPoints()
	tree := sptree.Build(dims, solution, n)
	sumQ, err := tree.AllNonEdgeForces(ctx, theta, make([]float64, n*dims), workers)
	if err != nil {
		return Result{}, err
	}
	return Compute(m, solution, dims, sumQ), nil
}

// ComputeOnSubset returns the divergence of the given points with both
// distributions normalized over each point's own neighbourhood. Total is
// the mean over the subset.
func ComputeOnSubset(m *affinity.Matrix, solution []float64, dims int, points []uint32) Result {
	if len(points) == 0 {
		return Result{}
	}
	res := newResult()
	for _, id := range points {
		i := int(id)
		yi := solution[i*dims : (i+1)*dims]
		entries := m.Symmetric(id)

		var normQ float64
		q := make([]float64, len(entries))
		for k, e := range entries {
			j := int(e.Index)
			q[k] = 1 / (1 + distance.SquaredL2Embedding(yi, solution[j*dims:(j+1)*dims]))
			normQ += q[k]
		}

		var pointError float64
		for k, e := range entries {
			var p float64
			if e.ForwardNorm > 0 {
				p = e.Forward / e.ForwardNorm
			}
			pointError += p * math.Log((p+floatMin)/(q[k]/normQ+floatMin))
		}
		res.add(pointError)
	}
	res.Total /= float64(len(points))
	return res
}
