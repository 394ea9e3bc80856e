// Package knn holds the types shared by the nearest-neighbour indexes and a
// brute-force reference search used to measure their recall.
package knn

import (
	"math/rand"
	"slices"

	"github.com/hupe1980/tsnego/distance"
	"github.com/hupe1980/tsnego/internal/queue"
)

// Neighbor is a search result.
type Neighbor struct {
	Index    uint32
	Distance float64 // squared Euclidean distance
}

// Searcher answers k-nearest-neighbour queries for indexed points.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// SearchPoint returns the k nearest neighbours of point i, excluding i,
	// ordered by increasing distance.
	SearchPoint(i uint32, k int) []Neighbor
	// Len returns the number of indexed points.
	Len() int
}

// BruteForce is an exact linear-scan Searcher.
type BruteForce struct {
	data []float32
	dim  int
}

// NewBruteForce returns a linear-scan searcher over the rows of data.
func NewBruteForce(data []float32, dim int) *BruteForce {
	return &BruteForce{data: data, dim: dim}
}

// Len implements Searcher.
func (b *BruteForce) Len() int {
	if b.dim <= 0 {
		return 0
	}
	return len(b.data) / b.dim
}

// SearchPoint implements Searcher.
func (b *BruteForce) SearchPoint(i uint32, k int) []Neighbor {
	n := b.Len()
	if k <= 0 || n == 0 {
		return nil
	}
	q := b.data[int(i)*b.dim : int(i+1)*b.dim]
	heap := queue.NewMax(k + 1)
	for j := 0; j < n; j++ {
		if uint32(j) == i {
			continue
		}
		d := distance.SquaredL2(q, b.data[j*b.dim:(j+1)*b.dim])
		heap.PushBounded(queue.PriorityQueueItem{Node: uint32(j), Distance: d}, k)
	}
	return FromItems(heap.DrainAscending(), true)
}

// FromItems converts heap items to neighbours. If squared is false the item
// distances are squared on the way out.
func FromItems(items []queue.PriorityQueueItem, squared bool) []Neighbor {
	out := make([]Neighbor, len(items))
	for i, it := range items {
		d := float64(it.Distance)
		if !squared {
			d *= d
		}
		out[i] = Neighbor{Index: it.Node, Distance: d}
	}
	return out
}

// Recall is the fraction of truth indices present in got.
func Recall(truth, got []Neighbor) float64 {
	if len(truth) == 0 {
		return 1
	}
	hits := 0
	for _, t := range truth {
		if slices.ContainsFunc(got, func(n Neighbor) bool { return n.Index == t.Index }) {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

// SampleRecall estimates the recall of s against exact search on up to
// sample randomly chosen points.
func SampleRecall(s Searcher, exact Searcher, k, sample int, seed int64) float64 {
	n := s.Len()
	if n == 0 || k <= 0 {
		return 1
	}
	rnd := rand.New(rand.NewSource(seed))
	if sample > n {
		sample = n
	}
	var total float64
	for range sample {
		i := uint32(rnd.Intn(n))
		total += Recall(exact.SearchPoint(i, k), s.SearchPoint(i, k))
	}
	return total / float64(sample)
}
