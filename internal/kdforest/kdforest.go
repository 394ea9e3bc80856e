// Package kdforest implements a forest of randomized KD-trees for approximate
// k-nearest-neighbour search.
//
// Every tree splits on a dimension drawn at random from the few dimensions
// with the highest variance, at the mean of that dimension. A query descends
// all trees and then explores the remaining branches best-bin-first across
// the whole forest until the check budget (the number of distance
// evaluations) is spent.
package kdforest

import (
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/tsnego/distance"
	"github.com/hupe1980/tsnego/internal/knn"
	"github.com/hupe1980/tsnego/internal/queue"
	"github.com/hupe1980/tsnego/internal/visited"
)

const (
	noChild = -1

	// randDims is the number of top-variance dimensions a split is drawn from.
	randDims = 5
	// sampleMean is the number of points used to estimate split statistics.
	sampleMean = 100
)

// Config configures a forest.
type Config struct {
	NumTrees  int   // number of randomized trees, at least 1
	NumChecks int   // default distance evaluation budget per query
	LeafSize  int   // maximum points per leaf
	Seed      int64 // split selection seed
}

// DefaultConfig returns the defaults used by the approximate initializer.
func DefaultConfig() Config {
	return Config{
		NumTrees:  4,
		NumChecks: 1024,
		LeafSize:  10,
		Seed:      1,
	}
}

type node struct {
	splitDim int32 // -1 for leaves
	splitVal float32
	left     int32
	right    int32
	start    int32 // leaf range in Forest.points
	end      int32
}

// Forest is an immutable set of randomized KD-trees over the rows of a
// row-major matrix. It is safe for concurrent queries.
type Forest struct {
	data   []float32
	dim    int
	n      int
	checks int

	// all trees share one node arena and one point permutation arena
	nodes  []node
	points []uint32
	roots  []int32

	visitedPool sync.Pool
}

// Build constructs a forest over the len(data)/dim rows of data.
func Build(data []float32, dim int, cfg Config) *Forest {
	def := DefaultConfig()
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = def.NumTrees
	}
	if cfg.NumChecks <= 0 {
		cfg.NumChecks = def.NumChecks
	}
	if cfg.LeafSize <= 0 {
		cfg.LeafSize = def.LeafSize
	}

	f := &Forest{data: data, dim: dim, checks: cfg.NumChecks}
	if dim > 0 {
		f.n = len(data) / dim
	}
	n := f.n
	f.visitedPool.New = func() any { return visited.New(n) }
	if n == 0 {
		return f
	}

	rnd := rand.New(rand.NewSource(cfg.Seed))
	f.points = make([]uint32, 0, n*cfg.NumTrees)
	f.roots = make([]int32, 0, cfg.NumTrees)
	for range cfg.NumTrees {
		base := len(f.points)
		for i := range n {
			f.points = append(f.points, uint32(i))
		}
		b := builder{forest: f, rnd: rnd, leafSize: cfg.LeafSize}
		f.roots = append(f.roots, b.build(int32(base), int32(base+n)))
	}
	return f
}

// Len returns the number of indexed points.
func (f *Forest) Len() int { return f.n }

// NumTrees returns the number of trees.
func (f *Forest) NumTrees() int { return len(f.roots) }

// Checks returns the default check budget.
func (f *Forest) Checks() int { return f.checks }

func (f *Forest) row(i uint32) []float32 {
	off := int(i) * f.dim
	return f.data[off : off+f.dim]
}

type builder struct {
	forest   *Forest
	rnd      *rand.Rand
	leafSize int
	mean     []float64
	variance []float64
}

func (b *builder) build(start, end int32) int32 {
	f := b.forest
	idx := int32(len(f.nodes))
	f.nodes = append(f.nodes, node{splitDim: -1, left: noChild, right: noChild, start: start, end: end})
	if int(end-start) <= b.leafSize {
		return idx
	}

	dim, val, ok := b.chooseSplit(f.points[start:end])
	if !ok {
		return idx
	}
	mid := b.partition(start, end, dim, val)
	if mid == start || mid == end {
		// all sampled points on one side; fall back to a positional split
		mid = start + (end-start)/2
		b.sortByDim(start, end, dim)
		val = f.data[int(f.points[mid])*f.dim+dim]
	}

	left := b.build(start, mid)
	right := b.build(mid, end)
	f.nodes[idx] = node{splitDim: int32(dim), splitVal: val, left: left, right: right}
	return idx
}

func (b *builder) chooseSplit(items []uint32) (int, float32, bool) {
	f := b.forest
	if b.mean == nil {
		b.mean = make([]float64, f.dim)
		b.variance = make([]float64, f.dim)
	}
	clear(b.mean)
	clear(b.variance)

	cnt := min(len(items), sampleMean)
	for _, p := range items[:cnt] {
		row := f.row(p)
		for d, v := range row {
			b.mean[d] += float64(v)
		}
	}
	for d := range b.mean {
		b.mean[d] /= float64(cnt)
	}
	for _, p := range items[:cnt] {
		row := f.row(p)
		for d, v := range row {
			diff := float64(v) - b.mean[d]
			b.variance[d] += diff * diff
		}
	}

	dims := make([]int, f.dim)
	for d := range dims {
		dims[d] = d
	}
	slices.SortFunc(dims, func(a, c int) int {
		switch {
		case b.variance[a] > b.variance[c]:
			return -1
		case b.variance[a] < b.variance[c]:
			return 1
		default:
			return a - c
		}
	})
	if b.variance[dims[0]] == 0 {
		return 0, 0, false
	}
	top := min(randDims, len(dims))
	for top > 1 && b.variance[dims[top-1]] == 0 {
		top--
	}
	d := dims[b.rnd.Intn(top)]
	return d, float32(b.mean[d]), true
}

// partition moves points with value < val to the front and returns the
// boundary index.
func (b *builder) partition(start, end int32, dim int, val float32) int32 {
	f := b.forest
	pts := f.points
	lo, hi := start, end-1
	for lo <= hi {
		if f.data[int(pts[lo])*f.dim+dim] < val {
			lo++
			continue
		}
		pts[lo], pts[hi] = pts[hi], pts[lo]
		hi--
	}
	return lo
}

func (b *builder) sortByDim(start, end int32, dim int) {
	f := b.forest
	slices.SortFunc(f.points[start:end], func(a, c uint32) int {
		va, vc := f.data[int(a)*f.dim+dim], f.data[int(c)*f.dim+dim]
		switch {
		case va < vc:
			return -1
		case va > vc:
			return 1
		default:
			return 0
		}
	})
}

// Search returns up to k approximate nearest rows to query, ordered by
// increasing squared distance. checks bounds the number of distance
// evaluations (0 uses the forest default). A non-negative exclude skips
// that point id.
func (f *Forest) Search(query []float32, k, checks int, exclude int64) []knn.Neighbor {
	if k <= 0 || f.n == 0 {
		return nil
	}
	if checks <= 0 {
		checks = f.checks
	}

	vs := f.visitedPool.Get().(*visited.VisitedSet)
	defer func() {
		vs.Reset()
		f.visitedPool.Put(vs)
	}()

	s := searcher{
		forest:   f,
		query:    query,
		k:        k,
		checks:   checks,
		exclude:  exclude,
		visited:  vs,
		results:  queue.NewMax(k + 1),
		branches: queue.NewMin(64),
	}

	// one full descent per tree before best-bin-first exploration
	for _, root := range f.roots {
		s.descend(root, 0)
	}
	for s.used < s.checks {
		br, ok := s.branches.PopItem()
		if !ok {
			break
		}
		if bound, full := s.results.Bound(k); full && br.Distance >= bound {
			break
		}
		s.descend(int32(br.Node), br.Distance)
	}

	return knn.FromItems(s.results.DrainAscending(), true)
}

// SearchPoint returns the approximate k nearest neighbours of indexed point
// i with the forest's default budget.
func (f *Forest) SearchPoint(i uint32, k int) []knn.Neighbor {
	return f.Search(f.row(i), k, f.checks, int64(i))
}

// WithChecks returns a knn.Searcher view of the forest using the given
// check budget.
func (f *Forest) WithChecks(checks int) knn.Searcher {
	return checked{forest: f, checks: checks}
}

type checked struct {
	forest *Forest
	checks int
}

func (c checked) Len() int { return c.forest.Len() }

func (c checked) SearchPoint(i uint32, k int) []knn.Neighbor {
	return c.forest.Search(c.forest.row(i), k, c.checks, int64(i))
}

type searcher struct {
	forest   *Forest
	query    []float32
	k        int
	checks   int
	used     int
	exclude  int64
	visited  *visited.VisitedSet
	results  *queue.PriorityQueue
	branches *queue.PriorityQueue
}

func (s *searcher) descend(ni int32, mindist float32) {
	f := s.forest
	for {
		n := &f.nodes[ni]
		if n.splitDim < 0 {
			s.scanLeaf(n)
			return
		}
		diff := s.query[n.splitDim] - n.splitVal
		near, far := n.left, n.right
		if diff >= 0 {
			near, far = n.right, n.left
		}
		farDist := mindist + diff*diff
		if bound, full := s.results.Bound(s.k); !full || farDist < bound {
			s.branches.PushItem(queue.PriorityQueueItem{Node: uint32(far), Distance: farDist})
		}
		ni = near
	}
}

func (s *searcher) scanLeaf(n *node) {
	f := s.forest
	for _, p := range f.points[n.start:n.end] {
		if int64(p) == s.exclude || !s.visited.Visit(p) {
			continue
		}
		if s.used >= s.checks && s.results.Len() >= s.k {
			return
		}
		s.used++
		d := distance.SquaredL2(s.query, f.row(p))
		s.results.PushBounded(queue.PriorityQueueItem{Node: p, Distance: d}, s.k)
	}
}
