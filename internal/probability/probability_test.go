package probability

import (
	"context"
	"math"
	"testing"

	"github.com/hupe1980/tsnego/internal/affinity"
	"github.com/hupe1980/tsnego/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entropy(p []float64) float64 {
	var sum float64
	for _, v := range p {
		sum += v
	}
	var h float64
	for _, v := range p {
		if v > 0 {
			q := v / sum
			h -= q * math.Log(q)
		}
	}
	return h
}

func TestCalibrateMatchesPerplexity(t *testing.T) {
	dist := []float64{0.1, 0.2, 0.4, 0.5, 0.9, 1.3, 2, 2.5, 3, 4, 6, 8}
	p := make([]float64, len(dist))

	for _, perplexity := range []float64{2, 3, 5, 8} {
		c := Calibrate(dist, p, perplexity, DefaultTolerance, DefaultMaxIterations)
		require.True(t, c.Converged, "perplexity %v", perplexity)
		assert.Greater(t, c.Beta, 0.0)
		assert.InDelta(t, math.Log(perplexity), entropy(p), 1e-3)
	}
}

func TestCalibrateNonConvergence(t *testing.T) {
	// perplexity above the number of neighbours cannot be reached
	dist := []float64{1, 2}
	p := make([]float64, 2)
	c := Calibrate(dist, p, 10, DefaultTolerance, 20)
	assert.False(t, c.Converged)
	assert.Equal(t, 20, c.Iterations)
	assert.Greater(t, c.Beta, 0.0)
}

func TestNormalize(t *testing.T) {
	data := []float32{1, 10, 3, 30}
	out := Normalize(data, 2)
	assert.Equal(t, []float32{1, 10, 3, 30}, data)
	assert.InDeltaSlice(t, []float64{-1.0 / 10, -1, 1.0 / 10, 1}, toF64(out), 1e-6)

	assert.Equal(t, []float32{0, 0, 0, 0}, Normalize([]float32{5, 5, 5, 5}, 2))
}

func toF64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = float64(v[i])
	}
	return out
}

func TestNeighbors(t *testing.T) {
	c := Config{Perplexity: 30}
	assert.Equal(t, 90, c.Neighbors(1000))
	assert.Equal(t, 9, c.Neighbors(10))
	assert.Equal(t, 1, Config{Perplexity: 0.1}.Neighbors(10))
}

func checkMatrix(t *testing.T, m *affinity.Matrix, res Result, perplexity float64) {
	t.Helper()
	n := m.NumPoints()
	assert.Equal(t, 2*float64(n), m.NormalizationFactor())
	for i := range n {
		id := uint32(i)
		row := m.Row(id)
		require.NotNil(t, row)
		assert.Len(t, row.Neighbors, res.Neighbors)
		assert.Greater(t, row.Beta, 0.0)
		p := make([]float64, len(row.Neighbors))
		for k, nb := range row.Neighbors {
			assert.GreaterOrEqual(t, nb.P, 0.0)
			assert.NotEqual(t, id, nb.Index)
			p[k] = nb.P
		}
		if row.Converged {
			assert.InDelta(t, math.Log(perplexity), entropy(p), 1e-3)
		}
		// every edge has a mirror entry
		for _, nb := range row.Neighbors {
			found := false
			for _, e := range m.Symmetric(nb.Index) {
				found = found || e.Index == id
			}
			assert.True(t, found)
		}
	}
}

func TestExactInitializer(t *testing.T) {
	data, _ := testutil.NewRNG(1).GaussianClusters(200, 6, 4, 10, 1)
	m := affinity.New(0)
	init := NewExact(Config{Perplexity: 10, Seed: 1})

	res, err := init.Initialize(context.Background(), data, 6, m)
	require.NoError(t, err)
	assert.Equal(t, 200, m.NumPoints())
	assert.Equal(t, 30, res.Neighbors)
	assert.Equal(t, 1.0, res.Precision)
	assert.Zero(t, res.Unconverged)
	checkMatrix(t, m, res, 10)
}

func TestApproxInitializer(t *testing.T) {
	data, _ := testutil.NewRNG(2).GaussianClusters(300, 8, 3, 10, 1)
	m := affinity.New(0)
	init := NewApprox(Config{Perplexity: 5, NumTrees: 4, NumChecks: 128, Seed: 1, Workers: 3})

	res, err := init.Initialize(context.Background(), data, 8, m)
	require.NoError(t, err)
	assert.Equal(t, 15, res.Neighbors)
	assert.Greater(t, res.Precision, 0.5)
	assert.LessOrEqual(t, res.Precision, 1.0)
	for i := range m.NumPoints() {
		assert.Equal(t, res.Precision, m.Row(uint32(i)).Precision)
	}
	checkMatrix(t, m, res, 5)
}

func TestInitializerCancelled(t *testing.T) {
	data := testutil.NewRNG(3).UniformMatrix(500, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExact(Config{Perplexity: 5}).Initialize(ctx, data, 4, affinity.New(0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSkipNormalization(t *testing.T) {
	data := []float32{0, 0, 0, 1, 10, 0, 10, 1}
	res, err := NewExact(Config{Perplexity: 1, SkipNormalization: true}).
		Initialize(context.Background(), data, 2, affinity.New(0))
	require.NoError(t, err)
	assert.Equal(t, data, res.Data)
	assert.Equal(t, 3, res.Neighbors)
}
