// Package sptree implements the Barnes–Hut space-partitioning tree used to
// compute the forces of a low-dimensional embedding.
//
// The tree is a quadtree for 2D embeddings and an octree for 3D (in general
// every cell has 2^d children). Nodes live in a flat arena indexed by int32
// and hold at most one point; identical points are merged into a single leaf
// with a larger cumulative size. A tree is rebuilt from scratch every
// iteration.
package sptree

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tsnego/internal/affinity"
)

const (
	noPoint  = -1
	noChild  = -1
	maxDepth = 64

	pointsPerTask = 256
)

type node struct {
	cumSize    int32
	point      int32 // stored point of a leaf, noPoint if empty
	firstChild int32 // children occupy [firstChild, firstChild+2^d)
	depth      int32
}

func (n *node) isLeaf() bool { return n.firstChild == noChild }

// Tree is a Barnes–Hut tree over an embedding.
type Tree struct {
	dims     int
	children int
	y        []float64
	n        int

	nodes  []node
	center []float64 // per node, dims values
	width  []float64 // per node half-widths, dims values
	com    []float64 // per node centre of mass, dims values
}

// Build constructs a tree over the n points of the row-major embedding y
// with dims coordinates each. y is referenced, not copied.
func Build(dims int, y []float64, n int) *Tree {
	t := &Tree{dims: dims, children: 1 << dims, y: y, n: n}
	t.nodes = make([]node, 0, 2*n+1)
	t.center = make([]float64, 0, (2*n+1)*dims)
	t.width = make([]float64, 0, (2*n+1)*dims)
	t.com = make([]float64, 0, (2*n+1)*dims)

	mean := make([]float64, dims)
	minY := make([]float64, dims)
	maxY := make([]float64, dims)
	for d := range dims {
		minY[d] = math.Inf(1)
		maxY[d] = math.Inf(-1)
	}
	for i := range n {
		for d := range dims {
			v := y[i*dims+d]
			mean[d] += v
			minY[d] = min(minY[d], v)
			maxY[d] = max(maxY[d], v)
		}
	}
	width := make([]float64, dims)
	for d := range dims {
		if n > 0 {
			mean[d] /= float64(n)
			width[d] = max(maxY[d]-mean[d], mean[d]-minY[d]) + 1e-5
		} else {
			width[d] = 1
		}
	}

	t.addNode(mean, width, 0)
	for i := range n {
		t.insert(int32(i))
	}
	return t
}

// Len returns the number of points in the tree.
func (t *Tree) Len() int { return t.n }

// NumNodes returns the size of the node arena.
func (t *Tree) NumNodes() int { return len(t.nodes) }

func (t *Tree) point(i int32) []float64 {
	off := int(i) * t.dims
	return t.y[off : off+t.dims]
}

func (t *Tree) vec(buf []float64, idx int32) []float64 {
	off := int(idx) * t.dims
	return buf[off : off+t.dims]
}

func (t *Tree) addNode(center, width []float64, depth int32) int32 {
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{point: noPoint, firstChild: noChild, depth: depth})
	t.center = append(t.center, center...)
	t.width = append(t.width, width...)
	t.com = append(t.com, make([]float64, t.dims)...)
	return idx
}

func (t *Tree) insert(i int32) {
	yi := t.point(i)
	idx := int32(0)
	for {
		nd := &t.nodes[idx]

		if nd.isLeaf() {
			switch {
			case nd.point == noPoint:
				nd.point = i
				nd.cumSize = 1
				copy(t.vec(t.com, idx), yi)
				return
			case equal(t.point(nd.point), yi) || nd.depth >= maxDepth:
				t.addMass(idx, yi)
				return
			default:
				t.subdivide(idx)
			}
		}

		t.addMass(idx, yi)
		idx = t.nodes[idx].firstChild + int32(t.childFor(idx, yi))
	}
}

// addMass adds one point at y to the centre of mass of node idx.
func (t *Tree) addMass(idx int32, y []float64) {
	nd := &t.nodes[idx]
	com := t.vec(t.com, idx)
	cum := float64(nd.cumSize)
	for d := range com {
		com[d] = (com[d]*cum + y[d]) / (cum + 1)
	}
	nd.cumSize++
}

// subdivide turns leaf idx into an inner node and moves its whole mass to
// the child containing the stored point.
func (t *Tree) subdivide(idx int32) {
	center := make([]float64, t.dims)
	width := make([]float64, t.dims)
	parentCenter := t.vec(t.center, idx)
	parentWidth := t.vec(t.width, idx)
	depth := t.nodes[idx].depth + 1

	first := int32(len(t.nodes))
	for c := range t.children {
		for d := range t.dims {
			width[d] = parentWidth[d] / 2
			if c&(1<<d) != 0 {
				center[d] = parentCenter[d] + width[d]
			} else {
				center[d] = parentCenter[d] - width[d]
			}
		}
		t.addNode(center, width, depth)
	}

	nd := &t.nodes[idx]
	p := nd.point
	child := first + int32(t.childFor(idx, t.point(p)))
	t.nodes[child].point = p
	t.nodes[child].cumSize = nd.cumSize
	copy(t.vec(t.com, child), t.vec(t.com, idx))

	nd.point = noPoint
	nd.firstChild = first
}

func (t *Tree) childFor(idx int32, y []float64) int {
	center := t.vec(t.center, idx)
	c := 0
	for d := range t.dims {
		if y[d] > center[d] {
			c |= 1 << d
		}
	}
	return c
}

func equal(a, b []float64) bool {
	for d := range a {
		if a[d] != b[d] {
			return false
		}
	}
	return true
}

// EdgeForces accumulates the attractive forces into posF (n·dims values,
// overwritten): for every symmetric neighbour j of i,
// p_ij·q_ij·(y_i − y_j) with q_ij = 1/(1+|y_i−y_j|²) and p_ij the
// exaggerated joint probability.
func (t *Tree) EdgeForces(m *affinity.Matrix, posF []float64) {
	clear(posF)
	for i := range t.n {
		id := uint32(i)
		yi := t.point(int32(i))
		f := posF[i*t.dims : (i+1)*t.dims]
		for _, e := range m.Symmetric(id) {
			p := m.JointProbability(id, e, true)
			if p == 0 {
				continue
			}
			yj := t.point(int32(e.Index))
			dist := 1.0
			for d := range t.dims {
				diff := yi[d] - yj[d]
				dist += diff * diff
			}
			mult := p / dist
			for d := range t.dims {
				f[d] += mult * (yi[d] - yj[d])
			}
		}
	}
}

// NonEdgeForces accumulates the repulsive force on point i into negF
// (dims values, added to) and returns its contribution to the partition
// function. A cell is summarized by its centre of mass once its largest
// half-width divided by its distance to the point falls below theta.
func (t *Tree) NonEdgeForces(i int, theta float64, negF []float64) float64 {
	if len(t.nodes) == 0 || t.nodes[0].cumSize == 0 {
		return 0
	}
	return t.nonEdge(0, t.point(int32(i)), theta, negF)
}

func (t *Tree) nonEdge(idx int32, yi []float64, theta float64, negF []float64) float64 {
	nd := &t.nodes[idx]
	if nd.cumSize == 0 {
		return 0
	}
	com := t.vec(t.com, idx)
	var dist float64
	for d := range t.dims {
		diff := yi[d] - com[d]
		dist += diff * diff
	}

	if nd.isLeaf() && dist == 0 {
		// the point itself, possibly with duplicates
		return float64(nd.cumSize - 1)
	}

	maxWidth := 0.0
	for _, w := range t.vec(t.width, idx) {
		maxWidth = max(maxWidth, w)
	}
	if nd.isLeaf() || maxWidth/math.Sqrt(dist) < theta {
		q := 1 / (1 + dist)
		mult := float64(nd.cumSize) * q
		sumQ := mult
		mult *= q
		for d := range t.dims {
			negF[d] += mult * (yi[d] - com[d])
		}
		return sumQ
	}

	var sumQ float64
	for c := range int32(t.children) {
		sumQ += t.nonEdge(nd.firstChild+c, yi, theta, negF)
	}
	return sumQ
}

// AllNonEdgeForces computes the repulsive forces of every point into negF
// (n·dims values, overwritten) on up to workers goroutines and returns the
// partition function sumQ.
func (t *Tree) AllNonEdgeForces(ctx context.Context, theta float64, negF []float64, workers int) (float64, error) {
	clear(negF)
	tasks := (t.n + pointsPerTask - 1) / pointsPerTask
	partial := make([]float64, tasks)

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for task := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := task * pointsPerTask
			end := min(start+pointsPerTask, t.n)
			var sum float64
			for i := start; i < end; i++ {
				sum += t.NonEdgeForces(i, theta, negF[i*t.dims:(i+1)*t.dims])
			}
			partial[task] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("non-edge forces: %w", err)
	}

	var sumQ float64
	for _, s := range partial {
		sumQ += s
	}
	return sumQ, nil
}
