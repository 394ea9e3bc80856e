// Package gradient implements the t-SNE gradient descent: Barnes–Hut forces,
// per-coordinate adaptive gains, momentum and the early exaggeration
// schedule.
package gradient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/tsnego/internal/affinity"
	"github.com/hupe1980/tsnego/internal/sptree"
)

var (
	// ErrNotInitialized is returned when iterating before Initialize.
	ErrNotInitialized = errors.New("gradient: optimizer not initialized")
	// ErrInvalidDimensions is returned for embeddings other than 2D or 3D.
	ErrInvalidDimensions = errors.New("gradient: embedding dimensions must be 2 or 3")
)

// Step reports a finished iteration.
type Step struct {
	Iteration int     // index of the iteration that ran
	SumQ      float64 // partition function of the embedding before the step
	Switched  bool    // momentum switched in this iteration
}

// Optimizer owns the embedding and advances it one iteration at a time.
type Optimizer struct {
	params Params

	m     *affinity.Matrix
	n     int
	dims  int
	theta float64
	eta   float64
	iter  int

	// mu guards solution, bounds and fixed against host readers
	mu       sync.RWMutex
	solution []float64
	minY     []float64
	maxY     []float64
	fixed    *bitset.BitSet

	uY    []float64
	gains []float64
	posF  []float64
	negF  []float64
	sumQ  float64
}

// New returns an optimizer. Zero fields of params keep their zero values;
// start from DefaultParams.
func New(params Params) *Optimizer {
	return &Optimizer{params: params}
}

// Params returns the optimizer parameters.
func (o *Optimizer) Params() Params { return o.params }

// Initialize creates a random embedding with dims coordinates per point of
// m and sets every exaggeration factor to the initial exaggeration.
func (o *Optimizer) Initialize(m *affinity.Matrix, dims int) error {
	if dims != 2 && dims != 3 {
		return fmt.Errorf("%w: got %d", ErrInvalidDimensions, dims)
	}
	n := m.NumPoints()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.m = m
	o.n = n
	o.dims = dims
	o.iter = 0
	o.theta = o.params.Theta
	if o.theta < 0 {
		o.theta = AutoTheta(n)
	}

	seed := o.params.Seed
	if seed == -1 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	o.solution = make([]float64, n*dims)
	for i := range o.solution {
		o.solution[i] = rnd.NormFloat64() * 1e-4
	}
	o.uY = make([]float64, n*dims)
	o.gains = make([]float64, n*dims)
	for i := range o.gains {
		o.gains[i] = 1
	}
	o.posF = make([]float64, n*dims)
	o.negF = make([]float64, n*dims)
	o.fixed = bitset.New(uint(n))
	o.minY = make([]float64, dims)
	o.maxY = make([]float64, dims)
	for d := range dims {
		o.minY[d], o.maxY[d] = -1, 1
	}

	exaggeration := o.params.InitialExaggeration
	if exaggeration <= 0 {
		exaggeration = InitialExaggeration(n)
	}
	m.SetAllExaggerations(exaggeration)

	o.eta = o.params.Eta
	if o.eta < 0 {
		o.eta = AutoLearningRate(n, exaggeration)
	}
	return nil
}

// Initialized reports whether Initialize ran since the last Reset.
func (o *Optimizer) Initialized() bool { return o.m != nil }

// Reset releases the embedding state.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.m = nil
	o.n, o.dims, o.iter = 0, 0, 0
	o.theta, o.eta = 0, 0
	o.solution, o.uY, o.gains, o.posF, o.negF = nil, nil, nil, nil, nil
	o.minY, o.maxY = nil, nil
	o.fixed = nil
	o.sumQ = 0
}

// Iteration returns the number of iterations done.
func (o *Optimizer) Iteration() int { return o.iter }

// LearningRate returns the learning rate in use.
func (o *Optimizer) LearningRate() float64 { return o.eta }

// Theta returns the Barnes–Hut accuracy in use.
func (o *Optimizer) Theta() float64 { return o.theta }

// Dims returns the embedding dimensionality.
func (o *Optimizer) Dims() int { return o.dims }

// SumQ returns the partition function computed by the last iteration.
func (o *Optimizer) SumQ() float64 { return o.sumQ }

// Solution returns a copy of the embedding.
func (o *Optimizer) Solution() []float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]float64, len(o.solution))
	copy(out, o.solution)
	return out
}

// View calls fn with the live embedding under the read lock. fn must not
// retain the slice.
func (o *Optimizer) View(fn func(solution []float64)) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	fn(o.solution)
}

// Bounds returns the per-dimension extent of the embedding observed during
// the last update.
func (o *Optimizer) Bounds() (minY, maxY []float64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]float64(nil), o.minY...), append([]float64(nil), o.maxY...)
}

// Radius returns half of the largest extent of the embedding.
func (o *Optimizer) Radius() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var r float64
	for d := range o.minY {
		r = max(r, (o.maxY[d]-o.minY[d])/2)
	}
	return r
}

// SetFixed marks points as fixed anchors, or releases them.
func (o *Optimizer) SetFixed(points []uint32, fixed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fixed == nil {
		return
	}
	for _, p := range points {
		o.fixed.SetTo(uint(p), fixed)
	}
}

// IsFixed reports whether point i is fixed.
func (o *Optimizer) IsFixed(i uint32) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fixed != nil && o.fixed.Test(uint(i))
}

// DoAnIteration advances the embedding by one gradient step.
func (o *Optimizer) DoAnIteration(ctx context.Context) (Step, error) {
	if o.m == nil {
		return Step{}, ErrNotInitialized
	}
	step := Step{Iteration: o.iter}

	o.updateExaggeration()

	tree := sptree.Build(o.dims, o.solution, o.n)
	tree.EdgeForces(o.m, o.posF)
	sumQ, err := tree.AllNonEdgeForces(ctx, o.theta, o.negF, o.params.Workers)
	if err != nil {
		return step, err
	}
	o.sumQ = sumQ
	step.SumQ = sumQ

	o.mu.Lock()
	o.update(sumQ)
	zeroMean(o.solution, o.n, o.dims)
	o.mu.Unlock()

	step.Switched = o.iter == o.params.MomSwitchingIter
	o.iter++
	return step, nil
}

func (o *Optimizer) updateExaggeration() {
	p := o.params
	switch {
	case p.ExponentialDecay:
		if o.iter >= p.StopLyingIter {
			o.m.DecayExaggerations(p.Decay)
		}
	case o.iter == p.StopLyingIter:
		o.m.SetAllExaggerations(1)
	case o.iter > p.StopLyingIter:
		// fades exaggerations set interactively after the cutoff
		o.m.DecayExaggerations(p.Decay)
	}
}

func (o *Optimizer) update(sumQ float64) {
	p := o.params
	momentum := p.Momentum
	if o.iter >= p.MomSwitchingIter {
		momentum = p.FinalMomentum
	}
	if sumQ == 0 {
		sumQ = math.SmallestNonzeroFloat64
	}

	for d := range o.dims {
		o.minY[d] = math.Inf(1)
		o.maxY[d] = math.Inf(-1)
	}

	for i := range o.solution {
		point := i / o.dims
		d := i - point*o.dims
		if o.fixed.Test(uint(point)) {
			o.minY[d] = min(o.minY[d], o.solution[i])
			o.maxY[d] = max(o.maxY[d], o.solution[i])
			continue
		}

		dY := o.posF[i] - o.negF[i]/sumQ

		if sign(dY) != sign(o.uY[i]) {
			o.gains[i] += 0.2
		} else {
			o.gains[i] *= 0.8
		}
		o.gains[i] = max(o.gains[i], p.MinimumGain)

		rate := o.eta * o.gains[i]
		if o.uY[i] != 0 && rate != 0 {
			limit := math.Abs(o.uY[i] * p.UMult)
			dY = sign(dY) * min(math.Abs(dY*rate), limit) / rate
		}

		o.uY[i] = momentum*o.uY[i] - rate*dY
		o.solution[i] += o.uY[i]

		o.minY[d] = min(o.minY[d], o.solution[i])
		o.maxY[d] = max(o.maxY[d], o.solution[i])
	}
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// zeroMean subtracts the per-dimension mean from the embedding.
func zeroMean(y []float64, n, dims int) {
	if n == 0 {
		return
	}
	mean := make([]float64, dims)
	for i := range n {
		for d := range dims {
			mean[d] += y[i*dims+d]
		}
	}
	for d := range dims {
		mean[d] /= float64(n)
	}
	for i := range n {
		for d := range dims {
			y[i*dims+d] -= mean[d]
		}
	}
}
