// Package vptree implements a vantage-point tree over the rows of a dense
// row-major matrix for exact k-nearest-neighbour queries.
//
// Nodes live in a flat arena indexed by int32; every node stores the
// partition radius of its vantage point. Searches use the Euclidean metric
// (the triangle inequality does not hold for squared distances) and report
// squared distances to the caller.
package vptree

import (
	"math"
	"math/rand"
	"slices"

	"github.com/hupe1980/tsnego/distance"
	"github.com/hupe1980/tsnego/internal/knn"
	"github.com/hupe1980/tsnego/internal/queue"
)

const noChild = -1

type node struct {
	point     uint32
	threshold float32
	inside    int32
	outside   int32
}

// Tree is an immutable vantage-point tree. It is safe for concurrent queries
// and implements knn.Searcher.
type Tree struct {
	data  []float32
	dim   int
	nodes []node
	root  int32
}

// Build constructs a tree over the n = len(data)/dim rows of data.
// The seed drives vantage point selection only; results are exact for any seed.
func Build(data []float32, dim int, seed int64) *Tree {
	t := &Tree{data: data, dim: dim, root: noChild}
	if dim <= 0 {
		return t
	}
	n := len(data) / dim
	if n == 0 {
		return t
	}

	items := make([]uint32, n)
	for i := range items {
		items[i] = uint32(i)
	}
	t.nodes = make([]node, 0, n)
	b := builder{tree: t, rnd: rand.New(rand.NewSource(seed)), dists: make([]float32, n)}
	t.root = b.build(items)
	return t
}

// Len returns the number of indexed points.
func (t *Tree) Len() int { return len(t.nodes) }

// Dim returns the dimensionality of the indexed rows.
func (t *Tree) Dim() int { return t.dim }

func (t *Tree) row(i uint32) []float32 {
	off := int(i) * t.dim
	return t.data[off : off+t.dim]
}

type builder struct {
	tree  *Tree
	rnd   *rand.Rand
	dists []float32
}

func (b *builder) build(items []uint32) int32 {
	if len(items) == 0 {
		return noChild
	}
	t := b.tree

	// random vantage point moved to the front
	vp := b.rnd.Intn(len(items))
	items[0], items[vp] = items[vp], items[0]

	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{point: items[0], inside: noChild, outside: noChild})
	if len(items) == 1 {
		return idx
	}

	rest := items[1:]
	vpRow := t.row(items[0])
	dist := b.dists[:len(rest)]
	for i, p := range rest {
		dist[i] = distance.L2(vpRow, t.row(p))
	}
	order := make([]int, len(rest))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, c int) int {
		switch {
		case dist[a] < dist[c]:
			return -1
		case dist[a] > dist[c]:
			return 1
		default:
			return 0
		}
	})
	median := len(rest) / 2
	threshold := dist[order[median]]

	sorted := make([]uint32, len(rest))
	for i, o := range order {
		sorted[i] = rest[o]
	}
	copy(rest, sorted)

	// inside: [0, median), outside: [median, len)
	inside := b.build(rest[:median])
	outside := b.build(rest[median:])
	t.nodes[idx].threshold = threshold
	t.nodes[idx].inside = inside
	t.nodes[idx].outside = outside
	return idx
}

// Search returns the k nearest rows to query ordered by increasing distance.
// A non-negative exclude skips that point id (the query point itself).
func (t *Tree) Search(query []float32, k int, exclude int64) []knn.Neighbor {
	if k <= 0 || t.root == noChild {
		return nil
	}
	s := searcher{
		tree:    t,
		query:   query,
		k:       k,
		exclude: exclude,
		tau:     float32(math.MaxFloat32),
		heap:    queue.NewMax(k + 1),
	}
	s.search(t.root)

	return knn.FromItems(s.heap.DrainAscending(), false)
}

// SearchPoint returns the k nearest neighbours of indexed point i, excluding i.
func (t *Tree) SearchPoint(i uint32, k int) []knn.Neighbor {
	return t.Search(t.row(i), k, int64(i))
}

type searcher struct {
	tree    *Tree
	query   []float32
	k       int
	exclude int64
	tau     float32
	heap    *queue.PriorityQueue
}

func (s *searcher) search(ni int32) {
	if ni == noChild {
		return
	}
	n := &s.tree.nodes[ni]
	d := distance.L2(s.query, s.tree.row(n.point))

	if int64(n.point) != s.exclude && d < s.tau {
		s.heap.PushBounded(queue.PriorityQueueItem{Node: n.point, Distance: d}, s.k)
		if bound, full := s.heap.Bound(s.k); full {
			s.tau = bound
		}
	}

	if n.inside == noChild && n.outside == noChild {
		return
	}

	if d < n.threshold {
		if d-s.tau <= n.threshold {
			s.search(n.inside)
		}
		if d+s.tau >= n.threshold {
			s.search(n.outside)
		}
	} else {
		if d+s.tau >= n.threshold {
			s.search(n.outside)
		}
		if d-s.tau <= n.threshold {
			s.search(n.inside)
		}
	}
}
