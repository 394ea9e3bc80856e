package tsnego

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	collector := &BasicMetricsCollector{}
	logger := NewTextLogger(slog.LevelDebug)

	e, err := New(
		WithPerplexity(12),
		WithPerplexityMultiplier(2),
		WithTheta(0.4),
		WithIterations(300),
		WithApproximateKNN(8, 256),
		WithExaggerationIter(100),
		WithExpDecay(0),
		WithOutputDimensions(3),
		WithRandomSeed(7),
		WithSkipNormalization(),
		WithStrict(),
		WithWorkers(3),
		WithRefinement(RefinementKNN, 0.9),
		WithRefinementRate(500),
		WithRefinementExaggeration(3),
		WithLearningRate(150),
		WithDivergenceInterval(25),
		WithLogger(logger),
		WithMetricsObserver(collector),
	)
	require.NoError(t, err)

	c := e.Config()
	assert.Equal(t, 12.0, c.Perplexity)
	assert.Equal(t, 2, c.PerplexityMultiplier)
	assert.Equal(t, 0.4, c.Theta)
	assert.Equal(t, 300, c.Iterations)
	assert.Equal(t, KNNApprox, c.KNN)
	assert.Equal(t, 8, c.NumTrees)
	assert.Equal(t, 256, c.NumChecks)
	assert.Equal(t, 100, c.ExaggerationIter)
	assert.Equal(t, 0, c.ExpDecay)
	assert.Equal(t, 3, c.OutputDimensions)
	assert.Equal(t, int64(7), c.RandomSeed)
	assert.True(t, c.SkipNormalization)
	assert.True(t, c.Strict)
	assert.Equal(t, 3, c.Workers)
	assert.Equal(t, RefinementKNN, c.Refinement)
	assert.Equal(t, 0.9, c.DesiredPrecision)
	assert.Equal(t, 500.0, c.RefinementRate)
	assert.Equal(t, 3.0, c.RefinementExaggeration)
	assert.Equal(t, 150.0, c.LearningRate)
	assert.Equal(t, 25, c.DivergenceInterval)
	assert.Same(t, logger, e.logger)
	assert.Same(t, collector, e.metrics)
	assert.Equal(t, 3, e.controller.Workers())

	e, err = New(WithExactKNN(), WithLogger(nil), WithMetricsObserver(nil))
	require.NoError(t, err)
	assert.Equal(t, KNNExact, e.Config().KNN)
	assert.NotNil(t, e.logger)
	assert.Equal(t, NoopMetricsObserver{}, e.metrics)
}

func TestWithConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Iterations = 42
	e, err := New(WithConfig(cfg), WithPerplexity(5))
	require.NoError(t, err)
	assert.Equal(t, 42, e.Config().Iterations)
	assert.Equal(t, 5.0, e.Config().Perplexity)
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate(1000, 10))

	tests := []struct {
		name   string
		modify func(*Config)
		target error
	}{
		{"OutputDimensions", func(c *Config) { c.OutputDimensions = 1 }, ErrInvalidConfig},
		{"ZeroPerplexity", func(c *Config) { c.Perplexity = 0 }, ErrInvalidConfig},
		{"PerplexityTooLarge", func(c *Config) { c.Perplexity = 334 }, ErrPerplexityTooLarge},
		{"Multiplier", func(c *Config) { c.PerplexityMultiplier = 0 }, ErrInvalidConfig},
		{"Iterations", func(c *Config) { c.Iterations = -1 }, ErrInvalidConfig},
		{"KNNMode", func(c *Config) { c.KNN = KNNMode(7) }, ErrInvalidConfig},
		{"Trees", func(c *Config) { c.KNN = KNNApprox; c.NumTrees = 0 }, ErrInvalidConfig},
		{"Schedule", func(c *Config) { c.ExpDecay = -1 }, ErrInvalidConfig},
		{"Precision", func(c *Config) { c.Refinement = RefinementDensity; c.DesiredPrecision = 1.5 }, ErrInvalidConfig},
		{"RefinementMode", func(c *Config) { c.Refinement = RefinementMode(9) }, ErrInvalidConfig},
		{"Rate", func(c *Config) { c.RefinementRate = -1 }, ErrInvalidConfig},
		{"Workers", func(c *Config) { c.Workers = -2 }, ErrInvalidConfig},
		{"LearningRate", func(c *Config) { c.LearningRate = 0 }, ErrInvalidConfig},
		{"RefinementExaggeration", func(c *Config) { c.RefinementExaggeration = -1 }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			assert.ErrorIs(t, c.Validate(1000, 10), tt.target)
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "exact", KNNExact.String())
	assert.Equal(t, "approximate", KNNApprox.String())
	assert.Equal(t, "KNNMode(5)", KNNMode(5).String())
	assert.Equal(t, "none", RefinementNone.String())
	assert.Equal(t, "density", RefinementDensity.String())
	assert.Equal(t, "knn", RefinementKNN.String())
	assert.Equal(t, "RefinementMode(5)", RefinementMode(5).String())
}
