package refine

import (
	"context"
	"errors"

	"github.com/hupe1980/tsnego/internal/affinity"
	"github.com/hupe1980/tsnego/internal/kdforest"
	"github.com/hupe1980/tsnego/internal/knn"
	"github.com/hupe1980/tsnego/internal/probability"
	"github.com/hupe1980/tsnego/internal/vptree"
)

const (
	tuneSample    = 50
	initialChecks = 32
)

// ErrNotInitialized is returned by refiners used before Initialize.
var ErrNotInitialized = errors.New("refine: refiner not initialized")

// Refiner recomputes single rows of an affinity matrix.
type Refiner interface {
	// Initialize builds the neighbour index.
	Initialize(ctx context.Context) error
	// Refine recomputes and publishes the row of point n. It reports
	// whether the row was replaced; rows already at the refiner's
	// precision are left alone.
	Refine(n uint32) (bool, error)
	// Precision is the neighbour precision of refined rows.
	Precision() float64
}

// Source is the input a refiner searches.
type Source struct {
	Matrix  *affinity.Matrix
	Data    []float32
	Dim     int
	Builder probability.RowBuilder
	Seed    int64
	// Exaggeration is set on a refined point and its new neighbours so the
	// embedding reacts to the sharper row; 0 leaves the factors alone.
	Exaggeration float64
}

// ExactRefiner refines rows with a vantage-point tree.
type ExactRefiner struct {
	src  Source
	tree *vptree.Tree
}

// NewExact returns an exact refiner.
func NewExact(src Source) *ExactRefiner {
	return &ExactRefiner{src: src}
}

// Initialize implements Refiner.
func (r *ExactRefiner) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.tree = vptree.Build(r.src.Data, r.src.Dim, r.src.Seed)
	return nil
}

// Precision implements Refiner.
func (r *ExactRefiner) Precision() float64 { return 1 }

// Refine implements Refiner.
func (r *ExactRefiner) Refine(n uint32) (bool, error) {
	if r.tree == nil {
		return false, ErrNotInitialized
	}
	return publish(r.src, r.tree, n, 1), nil
}

// ApproxRefiner refines rows with a KD forest whose check budget is raised
// until its sampled recall reaches the target precision.
type ApproxRefiner struct {
	src      Source
	target   float64
	numTrees int

	searcher  knn.Searcher
	precision float64
	checks    int
}

// NewApprox returns an approximate refiner aiming at the given precision.
func NewApprox(src Source, target float64, numTrees int) *ApproxRefiner {
	return &ApproxRefiner{src: src, target: target, numTrees: numTrees}
}

// Initialize implements Refiner.
func (r *ApproxRefiner) Initialize(ctx context.Context) error {
	forest := kdforest.Build(r.src.Data, r.src.Dim, kdforest.Config{
		NumTrees: r.numTrees,
		Seed:     r.src.Seed + 1,
	})
	exact := knn.NewBruteForce(r.src.Data, r.src.Dim)
	n := forest.Len()

	checks := initialChecks
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := forest.WithChecks(checks)
		recall := knn.SampleRecall(s, exact, r.src.Builder.K, tuneSample, r.src.Seed)
		r.searcher, r.precision, r.checks = s, recall, checks
		if recall >= r.target || checks >= n {
			return nil
		}
		checks *= 2
	}
}

// Precision implements Refiner.
func (r *ApproxRefiner) Precision() float64 { return r.precision }

// Checks returns the tuned check budget.
func (r *ApproxRefiner) Checks() int { return r.checks }

// Refine implements Refiner.
func (r *ApproxRefiner) Refine(n uint32) (bool, error) {
	if r.searcher == nil {
		return false, ErrNotInitialized
	}
	return publish(r.src, r.searcher, n, r.precision), nil
}

func publish(src Source, s knn.Searcher, n uint32, precision float64) bool {
	if cur := src.Matrix.Row(n); cur != nil && cur.Precision >= precision {
		return false
	}
	src.Matrix.ReplaceRow(n, src.Builder.Build(s, n, precision))
	if src.Exaggeration > 0 {
		src.Matrix.ExaggeratePointNeighborhood(n, src.Exaggeration)
	}
	return true
}
