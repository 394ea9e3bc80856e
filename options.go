package tsnego

import (
	"fmt"
	"log/slog"
)

// KNNMode selects how the initial neighbours are found.
type KNNMode int

const (
	// KNNExact uses a vantage-point tree.
	KNNExact KNNMode = iota
	// KNNApprox uses a randomized KD-tree forest.
	KNNApprox
)

func (m KNNMode) String() string {
	switch m {
	case KNNExact:
		return "exact"
	case KNNApprox:
		return "approximate"
	default:
		return fmt.Sprintf("KNNMode(%d)", int(m))
	}
}

// RefinementMode selects the background refinement strategy.
type RefinementMode int

const (
	// RefinementNone disables background refinement.
	RefinementNone RefinementMode = iota
	// RefinementDensity refines every row once, densest bandwidth first.
	RefinementDensity
	// RefinementKNN refines rows reachable from selected points.
	RefinementKNN
)

func (m RefinementMode) String() string {
	switch m {
	case RefinementNone:
		return "none"
	case RefinementDensity:
		return "density"
	case RefinementKNN:
		return "knn"
	default:
		return fmt.Sprintf("RefinementMode(%d)", int(m))
	}
}

// Config holds the engine parameters.
type Config struct {
	// Perplexity is the calibration target, the effective neighbourhood size.
	Perplexity float64
	// PerplexityMultiplier sets the neighbours per row to
	// Perplexity·PerplexityMultiplier.
	PerplexityMultiplier int
	// Theta is the Barnes–Hut accuracy. Negative derives it from N.
	Theta float64
	// LearningRate of the gradient descent. Negative derives it from N and
	// the early exaggeration, n/(4·exaggeration) clamped to [1, 200].
	LearningRate float64
	// Iterations is the number of gradient descent iterations.
	Iterations int

	KNN       KNNMode
	NumTrees  int // approximate search only
	NumChecks int // approximate search only

	// ExaggerationIter is the length of the early exaggeration phase; the
	// momentum switches at the same iteration.
	ExaggerationIter int
	// ExpDecay is the half-life in iterations of the exaggeration decay.
	// 0 removes the exaggeration at once.
	ExpDecay int

	OutputDimensions int
	// RandomSeed seeds the initial embedding; -1 uses the wall clock.
	RandomSeed int64

	SkipNormalization bool
	// Strict turns unconverged calibrations into ErrCalibrationNotConverged.
	Strict bool
	// Workers bounds the goroutines of parallel loops; 0 uses GOMAXPROCS.
	Workers int

	Refinement RefinementMode
	// DesiredPrecision is the neighbour precision refined rows reach;
	// 1 refines exactly.
	DesiredPrecision float64
	// RefinementRate throttles refinement to rows per second; 0 is unlimited.
	RefinementRate float64
	// RefinementExaggeration is set on every refined point and its
	// neighbours; it decays like the early exaggeration. 0 disables it.
	RefinementExaggeration float64

	// DivergenceInterval is the number of iterations between KL divergence
	// estimates; 0 disables them.
	DivergenceInterval int
}

const defaultExpDecay = 70

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Perplexity:             30,
		PerplexityMultiplier:   3,
		Theta:                  -1,
		LearningRate:           -1,
		Iterations:             1000,
		KNN:                    KNNExact,
		NumTrees:               4,
		NumChecks:              1024,
		ExaggerationIter:       250,
		ExpDecay:               defaultExpDecay,
		OutputDimensions:       2,
		RandomSeed:             -1,
		Refinement:             RefinementNone,
		DesiredPrecision:       1,
		RefinementExaggeration: 5,
		DivergenceInterval:     100,
	}
}

// Validate checks the configuration against an input of n points with
// dims dimensions.
func (c Config) Validate(n, dims int) error {
	if c.OutputDimensions != 2 && c.OutputDimensions != 3 {
		return &ErrInvalidDimension{Dimension: c.OutputDimensions, cause: ErrInvalidConfig}
	}
	if c.Perplexity <= 0 {
		return fmt.Errorf("%w: perplexity %v must be positive", ErrInvalidConfig, c.Perplexity)
	}
	if c.Perplexity >= float64(n)/3 {
		return fmt.Errorf("%w: perplexity %v, points %d", ErrPerplexityTooLarge, c.Perplexity, n)
	}
	if c.PerplexityMultiplier <= 0 {
		return fmt.Errorf("%w: perplexity multiplier %d must be positive", ErrInvalidConfig, c.PerplexityMultiplier)
	}
	if c.LearningRate == 0 {
		return fmt.Errorf("%w: learning rate must not be zero", ErrInvalidConfig)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("%w: iterations %d must not be negative", ErrInvalidConfig, c.Iterations)
	}
	if c.KNN != KNNExact && c.KNN != KNNApprox {
		return fmt.Errorf("%w: unknown knn mode %d", ErrInvalidConfig, int(c.KNN))
	}
	if c.KNN == KNNApprox && (c.NumTrees <= 0 || c.NumChecks <= 0) {
		return fmt.Errorf("%w: approximate search needs positive trees and checks", ErrInvalidConfig)
	}
	if c.ExaggerationIter < 0 || c.ExpDecay < 0 {
		return fmt.Errorf("%w: exaggeration schedule must not be negative", ErrInvalidConfig)
	}
	switch c.Refinement {
	case RefinementNone:
	case RefinementDensity, RefinementKNN:
		if c.DesiredPrecision <= 0 || c.DesiredPrecision > 1 {
			return fmt.Errorf("%w: desired precision %v not in (0,1]", ErrInvalidConfig, c.DesiredPrecision)
		}
	default:
		return fmt.Errorf("%w: unknown refinement mode %d", ErrInvalidConfig, int(c.Refinement))
	}
	if c.RefinementRate < 0 || c.RefinementExaggeration < 0 || c.DivergenceInterval < 0 || c.Workers < 0 {
		return fmt.Errorf("%w: negative rate, interval or workers", ErrInvalidConfig)
	}
	return nil
}

type options struct {
	config  Config
	logger  *Logger
	metrics MetricsObserver
}

// Option configures an Engine.
type Option func(*options)

// WithConfig replaces the whole configuration.
func WithConfig(c Config) Option {
	return func(o *options) {
		o.config = c
	}
}

// WithPerplexity sets the calibration target.
func WithPerplexity(p float64) Option {
	return func(o *options) {
		o.config.Perplexity = p
	}
}

// WithPerplexityMultiplier sets the neighbours per unit of perplexity.
func WithPerplexityMultiplier(m int) Option {
	return func(o *options) {
		o.config.PerplexityMultiplier = m
	}
}

// WithTheta overrides the Barnes–Hut accuracy derived from N.
func WithTheta(theta float64) Option {
	return func(o *options) {
		o.config.Theta = theta
	}
}

// WithLearningRate overrides the learning rate derived from N.
func WithLearningRate(eta float64) Option {
	return func(o *options) {
		o.config.LearningRate = eta
	}
}

// WithIterations sets the number of iterations.
func WithIterations(n int) Option {
	return func(o *options) {
		o.config.Iterations = n
	}
}

// WithExactKNN computes the initial neighbours exactly.
func WithExactKNN() Option {
	return func(o *options) {
		o.config.KNN = KNNExact
	}
}

// WithApproximateKNN computes the initial neighbours with a KD forest of
// numTrees trees and a budget of numChecks distance evaluations per query.
func WithApproximateKNN(numTrees, numChecks int) Option {
	return func(o *options) {
		o.config.KNN = KNNApprox
		o.config.NumTrees = numTrees
		o.config.NumChecks = numChecks
	}
}

// WithExaggerationIter sets the length of the early exaggeration phase.
func WithExaggerationIter(n int) Option {
	return func(o *options) {
		o.config.ExaggerationIter = n
	}
}

// WithExpDecay sets the exaggeration decay half-life; 0 selects a hard
// cutoff.
func WithExpDecay(halfLife int) Option {
	return func(o *options) {
		o.config.ExpDecay = halfLife
	}
}

// WithOutputDimensions sets the embedding dimensionality (2 or 3).
func WithOutputDimensions(d int) Option {
	return func(o *options) {
		o.config.OutputDimensions = d
	}
}

// WithRandomSeed makes the initial embedding reproducible; -1 uses the
// wall clock.
func WithRandomSeed(seed int64) Option {
	return func(o *options) {
		o.config.RandomSeed = seed
	}
}

// WithSkipNormalization uses the input matrix as is.
func WithSkipNormalization() Option {
	return func(o *options) {
		o.config.SkipNormalization = true
	}
}

// WithStrict fails Initialize when calibration misses its tolerance.
func WithStrict() Option {
	return func(o *options) {
		o.config.Strict = true
	}
}

// WithWorkers bounds the goroutines of parallel loops.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.config.Workers = n
	}
}

// WithRefinement enables background refinement towards the desired
// neighbour precision.
func WithRefinement(mode RefinementMode, desiredPrecision float64) Option {
	return func(o *options) {
		o.config.Refinement = mode
		o.config.DesiredPrecision = desiredPrecision
	}
}

// WithRefinementRate throttles refinement to rows per second.
func WithRefinementRate(rowsPerSecond float64) Option {
	return func(o *options) {
		o.config.RefinementRate = rowsPerSecond
	}
}

// WithRefinementExaggeration sets the exaggeration of refined points and
// their neighbours; 0 disables it.
func WithRefinementExaggeration(factor float64) Option {
	return func(o *options) {
		o.config.RefinementExaggeration = factor
	}
}

// WithDivergenceInterval sets the iterations between KL divergence
// estimates; 0 disables them.
func WithDivergenceInterval(n int) Option {
	return func(o *options) {
		o.config.DivergenceInterval = n
	}
}

// WithLogger sets the logger.
// If nil is passed, NoopLogger is used.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithLogLevel logs text to stderr at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsObserver sets the metrics observer.
// If nil is passed, NoopMetricsObserver is used.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsObserver{}
		}
		o.metrics = m
	}
}
