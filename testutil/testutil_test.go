package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformMatrix(t *testing.T) {
	rng := NewRNG(4711)
	m := rng.UniformMatrix(8, 4)
	require.Len(t, m, 32)
	for _, v := range m {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestGaussianClustersDeterministic(t *testing.T) {
	a, la := NewRNG(1).GaussianClusters(30, 5, 3, 10, 0.1)
	b, lb := NewRNG(1).GaussianClusters(30, 5, 3, 10, 0.1)
	assert.Equal(t, a, b)
	assert.Equal(t, la, lb)
	assert.Equal(t, []int{0, 1, 2, 0}, la[:4])
}

func TestExactKNN(t *testing.T) {
	data := []float32{0, 0, 1, 0, 5, 0, 2, 0}
	res := ExactKNN(data, 2, 0, 2)
	require.Len(t, res, 2)
	assert.Equal(t, uint32(1), res[0].ID)
	assert.Equal(t, uint32(3), res[1].ID)
	assert.Equal(t, float32(4), res[1].Distance)
}

func TestComputeRecall(t *testing.T) {
	truth := []SearchResult{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	approx := []SearchResult{{ID: 1}, {ID: 3}, {ID: 9}, {ID: 4}}
	assert.InDelta(t, 0.75, ComputeRecall(truth, approx), 1e-9)
	assert.Equal(t, 1.0, ComputeRecall(nil, nil))
	assert.Equal(t, 0.0, ComputeRecall(truth, nil))
}
