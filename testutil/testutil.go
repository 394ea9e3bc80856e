package testutil

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/tsnego/distance"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID       uint32
	Distance float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// UniformMatrix returns a row-major num×dim matrix with values in [0, 1).
func (r *RNG) UniformMatrix(num, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range data {
		data[i] = r.rand.Float32()
	}
	return data
}

// GaussianClusters returns a row-major num×dim matrix of points drawn around
// clusters centroids. Centroid coordinates are uniform in
// [0, separation) and points get isotropic Gaussian noise with the given
// spread. labels[i] is the cluster of row i; rows are assigned round-robin.
func (r *RNG) GaussianClusters(num, dim, clusters int, separation, spread float32) (data []float32, labels []int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	centroids := make([]float32, clusters*dim)
	for i := range centroids {
		centroids[i] = r.rand.Float32() * separation
	}

	data = make([]float32, num*dim)
	labels = make([]int, num)
	for i := range num {
		c := i % clusters
		labels[i] = c
		for j := range dim {
			data[i*dim+j] = centroids[c*dim+j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return data, labels
}

// ExactKNN computes the k nearest rows of row q by brute force, excluding q.
func ExactKNN(data []float32, dim int, q uint32, k int) []SearchResult {
	n := len(data) / dim
	query := data[int(q)*dim : int(q+1)*dim]
	results := make([]SearchResult, 0, n)
	for i := 0; i < n; i++ {
		if uint32(i) == q {
			continue
		}
		results = append(results, SearchResult{
			ID:       uint32(i),
			Distance: distance.SquaredL2(query, data[i*dim:(i+1)*dim]),
		})
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Distance < results[b].Distance
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

// ComputeRecall returns the fraction of the ground truth ids found in the
// approximate result.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[uint32]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
