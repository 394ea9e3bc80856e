package probability

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tsnego/internal/affinity"
	"github.com/hupe1980/tsnego/internal/kdforest"
	"github.com/hupe1980/tsnego/internal/knn"
	"github.com/hupe1980/tsnego/internal/vptree"
)

const (
	// DefaultTolerance is the entropy tolerance of the bandwidth search.
	DefaultTolerance = 1e-5
	// DefaultMaxIterations bounds the bandwidth search.
	DefaultMaxIterations = 200
	// DefaultMultiplier is the neighbour count per unit of perplexity.
	DefaultMultiplier = 3

	precisionSample = 100
	rowsPerTask     = 64
)

// Config configures the initializers.
type Config struct {
	Perplexity        float64
	Multiplier        int
	Tolerance         float64
	MaxIterations     int
	SkipNormalization bool
	Workers           int
	Seed              int64
	Logger            *slog.Logger

	// approximate search only
	NumTrees  int
	NumChecks int
}

func (c Config) withDefaults() Config {
	if c.Multiplier <= 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Neighbors returns the number of neighbours per row for n points.
func (c Config) Neighbors(n int) int {
	mult := c.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	k := int(c.Perplexity * float64(mult))
	return max(1, min(k, n-1))
}

// Result describes a completed initialization.
type Result struct {
	// Data is the matrix the neighbours were computed on (normalized unless
	// SkipNormalization was set). Refiners must search the same matrix.
	Data []float32
	// Neighbors is the number of neighbours per row.
	Neighbors int
	// Unconverged counts rows whose calibration missed the tolerance.
	Unconverged int
	// Precision is the expected fraction of true neighbours per row.
	Precision float64
}

// Initializer fills an affinity matrix from a row-major N×dim matrix.
type Initializer interface {
	Initialize(ctx context.Context, data []float32, dim int, m *affinity.Matrix) (Result, error)
}

// ExactInitializer finds neighbours with a vantage-point tree.
type ExactInitializer struct {
	cfg Config
}

// NewExact returns an exact initializer.
func NewExact(cfg Config) *ExactInitializer {
	return &ExactInitializer{cfg: cfg.withDefaults()}
}

// Initialize implements Initializer.
func (e *ExactInitializer) Initialize(ctx context.Context, data []float32, dim int, m *affinity.Matrix) (Result, error) {
	prepared := e.cfg.prepare(data, dim)
	tree := vptree.Build(prepared, dim, e.cfg.Seed)
	e.cfg.Logger.Debug("built vantage-point tree", "points", tree.Len())
	return e.cfg.populate(ctx, prepared, tree, 1, m)
}

// ApproxInitializer finds neighbours with a randomized KD forest.
type ApproxInitializer struct {
	cfg Config
}

// NewApprox returns an approximate initializer.
func NewApprox(cfg Config) *ApproxInitializer {
	return &ApproxInitializer{cfg: cfg.withDefaults()}
}

// Initialize implements Initializer.
func (a *ApproxInitializer) Initialize(ctx context.Context, data []float32, dim int, m *affinity.Matrix) (Result, error) {
	prepared := a.cfg.prepare(data, dim)
	forest := kdforest.Build(prepared, dim, kdforest.Config{
		NumTrees:  a.cfg.NumTrees,
		NumChecks: a.cfg.NumChecks,
		Seed:      a.cfg.Seed,
	})

	k := a.cfg.Neighbors(forest.Len())
	precision := knn.SampleRecall(forest, knn.NewBruteForce(prepared, dim), k, precisionSample, a.cfg.Seed)
	a.cfg.Logger.Debug("built kd forest",
		"points", forest.Len(), "trees", forest.NumTrees(), "checks", forest.Checks(), "precision", precision)

	return a.cfg.populate(ctx, prepared, forest, precision, m)
}

func (c Config) prepare(data []float32, dim int) []float32 {
	if c.SkipNormalization {
		return data
	}
	return Normalize(data, dim)
}

func (c Config) populate(ctx context.Context, data []float32, s knn.Searcher, precision float64, m *affinity.Matrix) (Result, error) {
	n := s.Len()
	m.Resize(n)
	res := Result{Data: data, Neighbors: c.Neighbors(n), Precision: precision}
	if n == 0 {
		return res, nil
	}

	b := c.RowBuilder(n)
	unconverged := make([]int, (n+rowsPerTask-1)/rowsPerTask)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Workers)
	for task := range unconverged {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := task * rowsPerTask
			end := min(start+rowsPerTask, n)
			for i := start; i < end; i++ {
				row := b.Build(s, uint32(i), precision)
				if !row.Converged {
					unconverged[task]++
				}
				m.SetRow(uint32(i), row)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("compute affinity rows: %w", err)
	}

	for _, u := range unconverged {
		res.Unconverged += u
	}
	m.Symmetrize()
	m.ComputeNormalizationFactor()
	return res, nil
}

// RowBuilder computes single affinity rows. It is shared with the refiners.
type RowBuilder struct {
	Perplexity    float64
	Tolerance     float64
	MaxIterations int
	K             int
}

// RowBuilder returns the row builder for n points.
func (c Config) RowBuilder(n int) RowBuilder {
	c = c.withDefaults()
	return RowBuilder{
		Perplexity:    c.Perplexity,
		Tolerance:     c.Tolerance,
		MaxIterations: c.MaxIterations,
		K:             c.Neighbors(n),
	}
}

// Build searches the neighbours of point i and calibrates its row.
func (b RowBuilder) Build(s knn.Searcher, i uint32, precision float64) *affinity.Row {
	nbs := s.SearchPoint(i, b.K)
	dist := make([]float64, len(nbs))
	for k, nb := range nbs {
		dist[k] = nb.Distance
	}
	p := make([]float64, len(nbs))
	cal := Calibrate(dist, p, b.Perplexity, b.Tolerance, b.MaxIterations)

	entries := make([]affinity.Neighbor, len(nbs))
	for k, nb := range nbs {
		entries[k] = affinity.Neighbor{Index: nb.Index, P: p[k]}
	}
	return affinity.NewRow(entries, cal.Beta, precision, cal.Converged)
}
