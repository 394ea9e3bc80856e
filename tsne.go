package tsnego

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tsnego/internal/affinity"
	"github.com/hupe1980/tsnego/internal/conv"
	"github.com/hupe1980/tsnego/internal/divergence"
	"github.com/hupe1980/tsnego/internal/gradient"
	"github.com/hupe1980/tsnego/internal/probability"
	"github.com/hupe1980/tsnego/internal/refine"
	"github.com/hupe1980/tsnego/internal/resource"
	"github.com/hupe1980/tsnego/internal/simd"
)

// State is the lifecycle state of an Engine.
type State int32

const (
	// StateIdle is the state of a new or reset engine.
	StateIdle State = iota
	// StateProbabilitiesComputed follows a successful Initialize.
	StateProbabilitiesComputed
	// StateRunning is the state during Run.
	StateRunning
	// StateCancelled follows a run stopped before its last iteration.
	StateCancelled
	// StateCompleted follows a run that did all iterations.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbabilitiesComputed:
		return "probabilities_computed"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Divergence is a KL divergence estimate.
type Divergence struct {
	Iteration int
	Total     float64
	Min       float64 // smallest per-point contribution
	Max       float64 // largest per-point contribution
}

// Engine computes a t-SNE embedding.
//
// Initialize computes the affinities, Run (or Start) iterates the gradient
// descent. Accessors and the interactive methods are safe to call from other
// goroutines while a run is in progress.
type Engine struct {
	cfg        Config
	logger     *Logger
	metrics    MetricsObserver
	controller *resource.Controller

	// mu serializes lifecycle transitions and guards the fields below
	mu        sync.Mutex
	n         int
	matrix    *affinity.Matrix
	optimizer *gradient.Optimizer
	source    refine.Source
	density   *refine.DensityStrategy
	knn       *refine.KNNStrategy
	fixed     *roaring.Bitmap
	selection *roaring.Bitmap
	runErr    error

	state         atomic.Int32
	running       atomic.Bool
	stopRequested atomic.Bool
	deleted       atomic.Bool
	iteration     atomic.Int64
	continueFrom  atomic.Int64
	divergence    atomic.Pointer[Divergence]

	runWG sync.WaitGroup

	cbMu        sync.RWMutex
	onEmbedding func(iteration int)
	onDiverge   func(Divergence)
	onAnalysis  func()
}

// New creates an engine.
func New(opts ...Option) (*Engine, error) {
	o := options{
		config:  DefaultConfig(),
		logger:  NoopLogger(),
		metrics: NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.config.OutputDimensions != 2 && o.config.OutputDimensions != 3 {
		return nil, &ErrInvalidDimension{Dimension: o.config.OutputDimensions, cause: ErrInvalidConfig}
	}

	return &Engine{
		cfg:     o.config,
		logger:  o.logger,
		metrics: o.metrics,
		controller: resource.NewController(resource.Config{
			Workers:              o.config.Workers,
			MaxBackgroundWorkers: 2,
			RowsPerSecond:        o.config.RefinementRate,
		}),
		fixed:     roaring.New(),
		selection: roaring.New(),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// OnEmbeddingUpdated registers a callback invoked on the run goroutine after
// every iteration.
func (e *Engine) OnEmbeddingUpdated(fn func(iteration int)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onEmbedding = fn
}

// OnDivergence registers a callback for KL divergence estimates.
func (e *Engine) OnDivergence(fn func(Divergence)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onDiverge = fn
}

// OnAnalysisUpdated registers a callback invoked when a run ends. It is not
// invoked after MarkForDeletion.
func (e *Engine) OnAnalysisUpdated(fn func()) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onAnalysis = fn
}

// Initialize computes the affinities of the row-major data matrix with
// dims values per point and creates the initial embedding. Any previous
// state is released.
func (e *Engine) Initialize(ctx context.Context, data []float32, dims int) error {
	if e.deleted.Load() {
		return ErrClosed
	}
	if e.running.Load() {
		return ErrAlreadyRunning
	}
	n, err := validateShape(data, dims)
	if err != nil {
		return err
	}
	if err := e.cfg.Validate(n, dims); err != nil {
		return err
	}

	e.Reset()

	e.mu.Lock()
	defer e.mu.Unlock()

	logger := e.logger.WithPoints(n).WithDimension(dims)
	logger.DebugContext(ctx, "distance kernel selected", "kernel", simd.ActiveKernel().String())
	start := time.Now()

	pcfg := probability.Config{
		Perplexity:        e.cfg.Perplexity,
		Multiplier:        e.cfg.PerplexityMultiplier,
		SkipNormalization: e.cfg.SkipNormalization,
		Workers:           e.controller.Workers(),
		Seed:              e.seed(),
		Logger:            logger.Logger,
		NumTrees:          e.cfg.NumTrees,
		NumChecks:         e.cfg.NumChecks,
	}
	var initializer probability.Initializer = probability.NewExact(pcfg)
	if e.cfg.KNN == KNNApprox {
		initializer = probability.NewApprox(pcfg)
	}

	matrix := affinity.New(0)
	res, err := initializer.Initialize(ctx, data, dims, matrix)
	duration := time.Since(start)
	logger.LogInitialize(ctx, n, dims, e.cfg.KNN, duration, err)
	if err != nil {
		return err
	}
	logger.LogCalibration(ctx, res.Neighbors, res.Unconverged, res.Precision)
	e.metrics.OnCalibration(duration, n, res.Unconverged, res.Precision)
	if e.cfg.Strict && res.Unconverged > 0 {
		return fmt.Errorf("%w: %d of %d points", ErrCalibrationNotConverged, res.Unconverged, n)
	}

	opt := gradient.New(e.gradientParams())
	if err := opt.Initialize(matrix, e.cfg.OutputDimensions); err != nil {
		return err
	}

	e.n = n
	e.matrix = matrix
	e.optimizer = opt
	e.source = refine.Source{
		Matrix:  matrix,
		Data:    res.Data,
		Dim:     dims,
		Builder: pcfg.RowBuilder(n),
		Seed:    e.seed(),

		Exaggeration: e.cfg.RefinementExaggeration,
	}
	e.state.Store(int32(StateProbabilitiesComputed))
	return nil
}

func validateShape(data []float32, dims int) (int, error) {
	if dims <= 0 {
		return 0, &ErrInvalidDimension{Dimension: dims}
	}
	if len(data) == 0 {
		return 0, ErrEmptyData
	}
	if len(data)%dims != 0 {
		return 0, &ErrDataShape{Len: len(data), Dimension: dims}
	}
	n := len(data) / dims
	if _, err := conv.IntToUint32(n); err != nil {
		return 0, &ErrDataShape{Len: len(data), Dimension: dims, cause: err}
	}
	return n, nil
}

func (e *Engine) seed() int64 {
	if e.cfg.RandomSeed == -1 {
		return time.Now().UnixNano()
	}
	return e.cfg.RandomSeed
}

func (e *Engine) gradientParams() gradient.Params {
	p := gradient.DefaultParams()
	p.StopLyingIter = e.cfg.ExaggerationIter
	p.MomSwitchingIter = e.cfg.ExaggerationIter
	p.ExponentialDecay = e.cfg.ExpDecay > 0
	if p.ExponentialDecay {
		p.Decay = gradient.DecayFromHalfLife(e.cfg.ExpDecay)
	} else {
		p.Decay = gradient.DecayFromHalfLife(defaultExpDecay)
	}
	p.Theta = e.cfg.Theta
	p.Eta = e.cfg.LearningRate
	p.Seed = e.cfg.RandomSeed
	p.Workers = e.controller.Workers()
	return p
}

// Run iterates the gradient descent on the calling goroutine until all
// iterations are done, Stop is called or ctx is cancelled. Stop is not an
// error; a cancelled ctx returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	opt, err := e.begin(ctx, false)
	if err != nil {
		return err
	}
	return e.run(ctx, opt, false)
}

// begin claims the engine for a run. The stop flag is cleared here, before
// the run is visible to other goroutines, so a Stop issued after Run or
// Start was entered always takes effect.
func (e *Engine) begin(ctx context.Context, record bool) (*gradient.Optimizer, error) {
	if e.deleted.Load() {
		return nil, ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	opt := e.optimizer
	if opt == nil {
		return nil, ErrNotInitialized
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	e.runWG.Add(1)
	e.stopRequested.Store(false)
	if record {
		e.runErr = nil
	}
	e.state.Store(int32(StateRunning))
	e.startRefinement(ctx)
	return opt, nil
}

func (e *Engine) run(ctx context.Context, opt *gradient.Optimizer, record bool) (err error) {
	defer e.runWG.Done()
	defer e.running.Store(false)
	if record {
		defer func() {
			e.mu.Lock()
			e.runErr = err
			e.mu.Unlock()
		}()
	}

	err = e.loop(ctx, opt)

	e.mu.Lock()
	e.stopRefinement(ctx)
	e.mu.Unlock()

	state := e.State()
	e.logger.LogStop(ctx, opt.Iteration(), state)
	if !e.deleted.Load() {
		e.cbMu.RLock()
		fn := e.onAnalysis
		e.cbMu.RUnlock()
		if fn != nil {
			fn()
		}
	}
	return err
}

func (e *Engine) loop(ctx context.Context, opt *gradient.Optimizer) error {
	for iter := opt.Iteration(); iter < e.cfg.Iterations; iter = opt.Iteration() {
		if e.stopRequested.Load() || ctx.Err() != nil {
			e.continueFrom.Store(int64(iter))
			e.state.Store(int32(StateCancelled))
			return ctx.Err()
		}

		start := time.Now()
		step, err := opt.DoAnIteration(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.continueFrom.Store(int64(iter))
				e.state.Store(int32(StateCancelled))
				return ctx.Err()
			}
			return err
		}
		duration := time.Since(start)
		e.iteration.Store(int64(opt.Iteration()))
		e.metrics.OnIteration(step.Iteration, duration)
		e.logger.LogIteration(ctx, step.Iteration, step.SumQ, duration)
		if step.Switched {
			e.logger.DebugContext(ctx, "momentum switched", "iteration", step.Iteration)
		}

		e.cbMu.RLock()
		fn := e.onEmbedding
		e.cbMu.RUnlock()
		if fn != nil {
			fn(step.Iteration)
		}

		if every := e.cfg.DivergenceInterval; every > 0 && (step.Iteration+1)%every == 0 {
			if err := e.estimateDivergence(ctx, opt, step.Iteration); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
	e.continueFrom.Store(int64(opt.Iteration()))
	e.state.Store(int32(StateCompleted))
	return nil
}

func (e *Engine) estimateDivergence(ctx context.Context, opt *gradient.Optimizer, iteration int) error {
	var (
		res divergence.Result
		err error
	)
	opt.View(func(solution []float64) {
		res, err = divergence.ComputeWithTree(ctx, e.matrix, solution, opt.Dims(), opt.Theta(), e.controller.Workers())
	})
	if err != nil {
		return err
	}

	d := Divergence{Iteration: iteration, Total: res.Total, Min: res.Min, Max: res.Max}
	e.divergence.Store(&d)
	e.metrics.OnDivergence(d)
	e.logger.LogDivergence(ctx, d)

	e.cbMu.RLock()
	fn := e.onDiverge
	e.cbMu.RUnlock()
	if fn != nil {
		fn(d)
	}
	return nil
}

// Start runs the engine on a new goroutine. Use Wait for the result.
func (e *Engine) Start(ctx context.Context) error {
	opt, err := e.begin(ctx, true)
	if err != nil {
		return err
	}

	go func() {
		_ = e.run(ctx, opt, true)
	}()
	return nil
}

// Wait blocks until the current run finished and returns the error of the
// last run started with Start.
func (e *Engine) Wait() error {
	e.runWG.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runErr
}

// Stop asks the run to end before its next iteration.
func (e *Engine) Stop() {
	e.stopRequested.Store(true)
}

// MarkForDeletion stops the run and suppresses further analysis updates.
func (e *Engine) MarkForDeletion() {
	e.deleted.Store(true)
	e.Stop()
}

// Reset stops a run, waits for it and releases all state.
func (e *Engine) Reset() {
	e.Stop()
	e.runWG.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopRefinement(context.Background())
	if e.optimizer != nil {
		e.optimizer.Reset()
	}
	if e.matrix != nil {
		e.matrix.Clear()
	}
	e.n = 0
	e.matrix = nil
	e.optimizer = nil
	e.source = refine.Source{}
	e.fixed.Clear()
	e.selection.Clear()
	e.iteration.Store(0)
	e.continueFrom.Store(0)
	e.divergence.Store(nil)
	e.state.Store(int32(StateIdle))
}

// startRefinement starts the configured background refinement. Callers
// hold e.mu.
func (e *Engine) startRefinement(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	if e.cfg.Refinement == RefinementDensity && e.density == nil {
		e.density = refine.NewDensity(e.refineConfig())
		e.density.Initialize(bg)
	}
	if e.cfg.Refinement == RefinementKNN && e.knn == nil {
		e.knn = refine.NewKNN(e.refineConfig())
		e.knn.Initialize(bg)
	}
	if e.density != nil {
		e.density.Refine()
	}
	if e.knn != nil {
		e.knn.Refine()
	}
}

// stopRefinement stops and drops the strategies. Callers hold e.mu.
func (e *Engine) stopRefinement(ctx context.Context) {
	if e.density != nil {
		e.density.StopRefinement()
		e.logger.LogRefinement(ctx, RefinementDensity, e.density.Refined(), nil)
		e.density = nil
	}
	if e.knn != nil {
		e.knn.StopRefinement()
		e.logger.LogRefinement(ctx, RefinementKNN, e.knn.Refined(), nil)
		e.knn = nil
	}
}

func (e *Engine) refineConfig() refine.Config {
	precision := e.cfg.DesiredPrecision
	if precision <= 0 {
		precision = 1
	}
	return refine.Config{
		Source:           e.source,
		DesiredPrecision: precision,
		NumTrees:         e.cfg.NumTrees,
		Controller:       e.controller,
		Logger:           e.logger.Logger,
		OnRefined: func(point uint32, pending int) {
			e.metrics.OnRefinement(int(point))
			e.metrics.OnQueueDepth("refinement", pending)
		},
	}
}

// ExaggerateSelection sets the exaggeration of the given points and of
// their neighbours to factor.
func (e *Engine) ExaggerateSelection(points []int, factor float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.matrix == nil {
		return ErrNotInitialized
	}
	ids, err := conv.PointIDs(points, e.n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.selection.Clear()
	e.selection.AddMany(ids)
	it := e.selection.Iterator()
	for it.HasNext() {
		e.matrix.ExaggeratePointNeighborhood(it.Next(), factor)
	}
	return nil
}

// RefineSelection queues the given points for KNN-driven refinement. The
// refinement frontier grows to their neighbours. It runs while the engine
// runs.
func (e *Engine) RefineSelection(points []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.matrix == nil {
		return ErrNotInitialized
	}
	ids, err := conv.PointIDs(points, e.n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if e.knn == nil {
		e.knn = refine.NewKNN(e.refineConfig())
		e.knn.Initialize(context.Background())
		if e.running.Load() {
			e.knn.Refine()
		}
	}
	e.knn.Enqueue(ids...)
	e.metrics.OnQueueDepth("refinement", e.knn.Pending())
	return nil
}

// SetFixedPoints replaces the set of points excluded from the position
// update. Fixed points still act on the others.
func (e *Engine) SetFixedPoints(points []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.optimizer == nil {
		return ErrNotInitialized
	}
	ids, err := conv.PointIDs(points, e.n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	next := roaring.BitmapOf(ids...)
	released := roaring.AndNot(e.fixed, next)
	e.optimizer.SetFixed(released.ToArray(), false)
	e.optimizer.SetFixed(next.ToArray(), true)
	e.fixed = next
	return nil
}

// FixedPoints returns the fixed points in ascending order.
func (e *Engine) FixedPoints() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fixed.ToArray()
}

// Embedding returns a copy of the current embedding, row-major with
// OutputDimensions values per point.
func (e *Engine) Embedding() []float32 {
	e.mu.Lock()
	opt := e.optimizer
	e.mu.Unlock()
	if opt == nil {
		return nil
	}
	var out []float32
	opt.View(func(solution []float64) {
		out = make([]float32, len(solution))
		for i, v := range solution {
			out[i] = float32(v)
		}
	})
	return out
}

// Radius returns half of the largest extent of the embedding.
func (e *Engine) Radius() float64 {
	e.mu.Lock()
	opt := e.optimizer
	e.mu.Unlock()
	if opt == nil {
		return 0
	}
	return opt.Radius()
}

// Bounds returns the per-dimension minimum and maximum of the embedding
// taken during the last iteration, before recentring. Before the first
// iteration it is [-1, 1].
func (e *Engine) Bounds() (minY, maxY []float64) {
	e.mu.Lock()
	opt := e.optimizer
	e.mu.Unlock()
	if opt == nil {
		return nil, nil
	}
	return opt.Bounds()
}

// LearningRate returns the learning rate of the initialized run.
func (e *Engine) LearningRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.optimizer == nil {
		return 0
	}
	return e.optimizer.LearningRate()
}

// SelectionDivergence returns the KL divergence of the given points, with
// both distributions normalized over each point's own neighbourhood. Total
// is the mean over the selection. It is safe to call during a run.
func (e *Engine) SelectionDivergence(points []int) (Divergence, error) {
	e.mu.Lock()
	opt, m, n := e.optimizer, e.matrix, e.n
	e.mu.Unlock()
	if opt == nil {
		return Divergence{}, ErrNotInitialized
	}
	ids, err := conv.PointIDs(points, n)
	if err != nil {
		return Divergence{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var res divergence.Result
	opt.View(func(solution []float64) {
		res = divergence.ComputeOnSubset(m, solution, opt.Dims(), ids)
	})
	return Divergence{Iteration: e.Iteration(), Total: res.Total, Min: res.Min, Max: res.Max}, nil
}

// NumPoints returns the number of points of the initialized data.
func (e *Engine) NumPoints() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

// IsRunning reports whether a run is in progress.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// State returns the lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Iteration returns the number of iterations done.
func (e *Engine) Iteration() int { return int(e.iteration.Load()) }

// ContinueFromIteration returns the iteration at which the last run ended.
func (e *Engine) ContinueFromIteration() int { return int(e.continueFrom.Load()) }

// Divergence returns the latest KL divergence estimate.
func (e *Engine) Divergence() (Divergence, bool) {
	d := e.divergence.Load()
	if d == nil {
		return Divergence{}, false
	}
	return *d, true
}

// IsMarkedForDeletion reports whether MarkForDeletion was called.
func (e *Engine) IsMarkedForDeletion() bool { return e.deleted.Load() }
