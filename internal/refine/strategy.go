package refine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tsnego/internal/resource"
)

// State is the lifecycle state of a Strategy.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Strategy schedules background row refinement.
type Strategy interface {
	// Initialize builds the refiner in the background.
	Initialize(ctx context.Context)
	// Refine starts the refinement worker.
	Refine()
	// StopRefinement stops the worker and waits for it. It is idempotent
	// and safe to call without Refine.
	StopRefinement()
	IsActive() bool
	State() State
	// Refined returns the number of rows replaced so far.
	Refined() int64
	// Wait blocks until initialization and the current worker finished.
	// It must not race with calls that start a worker.
	Wait()
}

// Config configures a Strategy.
type Config struct {
	Source           Source
	DesiredPrecision float64
	NumTrees         int
	Controller       *resource.Controller
	Logger           *slog.Logger
	// OnRefined is called after every replaced row with the remaining
	// queue length (KNN-driven) or rows left in the order (density-driven).
	OnRefined func(point uint32, pending int)
}

func (c Config) refiner() Refiner {
	if c.DesiredPrecision >= 1 {
		return NewExact(c.Source)
	}
	return NewApprox(c.Source, c.DesiredPrecision, c.NumTrees)
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// lifecycle holds the worker plumbing shared by the strategies.
type lifecycle struct {
	cfg     Config
	refiner Refiner
	log     *slog.Logger

	state   atomic.Int32
	refined atomic.Int64

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	initDone chan struct{}
	initErr  error
	wg       sync.WaitGroup
}

func newLifecycle(cfg Config) *lifecycle {
	return &lifecycle{
		cfg:      cfg,
		refiner:  cfg.refiner(),
		log:      cfg.logger(),
		initDone: make(chan struct{}),
	}
}

func (l *lifecycle) State() State { return State(l.state.Load()) }

func (l *lifecycle) IsActive() bool { return l.State() == Active }

func (l *lifecycle) Refined() int64 { return l.refined.Load() }

func (l *lifecycle) Wait() { l.wg.Wait() }

// Refiner returns the row refiner.
func (l *lifecycle) Refiner() Refiner { return l.refiner }

// initialize runs prepare on a background goroutine after the refiner was built.
func (l *lifecycle) initialize(ctx context.Context, prepare func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() != Uninitialized {
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.state.Store(int32(Initializing))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.initDone)
		if err := l.refiner.Initialize(l.ctx); err != nil {
			l.initErr = err
			return
		}
		if prepare != nil {
			prepare()
		}
		l.log.Debug("refinement initialized", "precision", l.refiner.Precision())
	}()
}

// activate marks the strategy active. It reports false if it was not
// initialized or already stopped.
func (l *lifecycle) activate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.CompareAndSwap(int32(Initializing), int32(Active)) || l.State() == Active
}

// spawn runs work on a worker goroutine holding a background slot.
func (l *lifecycle) spawn(work func(ctx context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case <-l.initDone:
		case <-l.ctx.Done():
			return
		}
		if l.initErr != nil {
			l.log.Warn("refinement initialization failed", "error", l.initErr)
			return
		}
		if err := l.cfg.Controller.AcquireBackground(l.ctx); err != nil {
			return
		}
		defer l.cfg.Controller.ReleaseBackground()
		work(l.ctx)
	}()
}

// refine replaces one row after waiting for the rate limiter.
func (l *lifecycle) refine(ctx context.Context, n uint32, pending int) bool {
	if err := l.cfg.Controller.WaitRow(ctx); err != nil {
		return false
	}
	replaced, err := l.refiner.Refine(n)
	if err != nil {
		l.log.Warn("refinement failed", "point", n, "error", err)
		return false
	}
	if replaced {
		cnt := l.refined.Add(1)
		if cnt%1000 == 0 {
			l.log.Debug("refinement progress", "refined", cnt, "pending", pending)
		}
		if l.cfg.OnRefined != nil {
			l.cfg.OnRefined(n, pending)
		}
	}
	return replaced
}

func (l *lifecycle) StopRefinement() {
	l.mu.Lock()
	if l.State() == Stopped {
		l.mu.Unlock()
		return
	}
	l.state.Store(int32(Stopped))
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	l.log.Debug("refinement stopped", "refined", l.Refined())
}

// DensityStrategy refines every row once, in order of ascending 1/beta.
type DensityStrategy struct {
	*lifecycle
	order []uint32
}

// NewDensity returns a density-driven strategy.
func NewDensity(cfg Config) *DensityStrategy {
	return &DensityStrategy{lifecycle: newLifecycle(cfg)}
}

// Initialize implements Strategy.
func (s *DensityStrategy) Initialize(ctx context.Context) {
	s.initialize(ctx, s.buildOrder)
}

func (s *DensityStrategy) buildOrder() {
	m := s.cfg.Source.Matrix
	n := m.NumPoints()
	bandwidth := make([]float64, n)
	s.order = make([]uint32, n)
	for i := range n {
		s.order[i] = uint32(i)
		if r := m.Row(uint32(i)); r != nil && r.Beta > 0 {
			bandwidth[i] = 1 / r.Beta
		}
	}
	slices.SortStableFunc(s.order, func(a, b uint32) int {
		switch {
		case bandwidth[a] < bandwidth[b]:
			return -1
		case bandwidth[a] > bandwidth[b]:
			return 1
		default:
			return 0
		}
	})
}

// Order returns the refinement order. Valid once initialization finished.
func (s *DensityStrategy) Order() []uint32 { return s.order }

// Refine implements Strategy.
func (s *DensityStrategy) Refine() {
	if !s.activate() {
		return
	}
	s.spawn(func(ctx context.Context) {
		for idx, n := range s.order {
			if ctx.Err() != nil {
				return
			}
			s.refine(ctx, n, len(s.order)-idx-1)
		}
	})
}

// KNNStrategy refines a frontier that starts at externally enqueued points
// and expands to their neighbours until every reached row meets the
// desired precision.
type KNNStrategy struct {
	*lifecycle

	qmu     sync.Mutex
	queue   []uint32
	seen    *roaring.Bitmap
	running bool
}

// NewKNN returns a KNN-driven strategy.
func NewKNN(cfg Config) *KNNStrategy {
	return &KNNStrategy{lifecycle: newLifecycle(cfg), seen: roaring.New()}
}

// Initialize implements Strategy.
func (s *KNNStrategy) Initialize(ctx context.Context) {
	s.initialize(ctx, nil)
}

// Enqueue adds points to the work queue. Points enqueued before are
// ignored. If the strategy is active an idle worker is restarted.
func (s *KNNStrategy) Enqueue(points ...uint32) {
	s.qmu.Lock()
	for _, p := range points {
		if s.seen.CheckedAdd(p) {
			s.queue = append(s.queue, p)
		}
	}
	restart := s.IsActive() && !s.running && len(s.queue) > 0
	if restart {
		s.running = true
	}
	s.qmu.Unlock()

	if restart {
		s.spawn(s.work)
	}
}

// Pending returns the queue length.
func (s *KNNStrategy) Pending() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue)
}

// Refine implements Strategy.
func (s *KNNStrategy) Refine() {
	if !s.activate() {
		return
	}
	s.qmu.Lock()
	start := !s.running
	s.running = true
	s.qmu.Unlock()
	if start {
		s.spawn(s.work)
	}
}

func (s *KNNStrategy) pop() (uint32, int, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		s.running = false
		return 0, 0, false
	}
	n := s.queue[0]
	s.queue = s.queue[1:]
	return n, len(s.queue), true
}

func (s *KNNStrategy) work(ctx context.Context) {
	m := s.cfg.Source.Matrix
	desired := s.cfg.DesiredPrecision

	for ctx.Err() == nil {
		n, pending, ok := s.pop()
		if !ok {
			return
		}
		if r := m.Row(n); r != nil && r.Precision >= desired {
			continue
		}
		if !s.refine(ctx, n, pending) {
			continue
		}
		var frontier []uint32
		for _, nb := range m.Row(n).Neighbors {
			if r := m.Row(nb.Index); r != nil && r.Precision < desired {
				frontier = append(frontier, nb.Index)
			}
		}
		s.qmu.Lock()
		for _, p := range frontier {
			if s.seen.CheckedAdd(p) {
				s.queue = append(s.queue, p)
			}
		}
		s.qmu.Unlock()
	}
	s.qmu.Lock()
	s.running = false
	s.qmu.Unlock()
}
