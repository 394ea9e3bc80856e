package vptree

import (
	"testing"

	"github.com/hupe1980/tsnego/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMatchesBruteForce(t *testing.T) {
	rng := testutil.NewRNG(42)
	const n, dim, k = 300, 8, 10
	data := rng.UniformMatrix(n, dim)
	tree := Build(data, dim, 1)
	require.Equal(t, n, tree.Len())

	for _, q := range []uint32{0, 17, 150, 299} {
		got := tree.SearchPoint(q, k)
		want := testutil.ExactKNN(data, dim, q, k)
		require.Len(t, got, k)
		for i := range want {
			assert.InDelta(t, float64(want[i].Distance), got[i].Distance, 1e-4, "query %d rank %d", q, i)
			assert.NotEqual(t, q, got[i].Index)
		}
	}
}

func TestSearchKLargerThanN(t *testing.T) {
	data := []float32{0, 0, 1, 0, 0, 2}
	tree := Build(data, 2, 3)
	got := tree.SearchPoint(0, 10)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].Index)
	assert.InDelta(t, 1.0, got[0].Distance, 1e-6)
	assert.Equal(t, uint32(2), got[1].Index)
	assert.InDelta(t, 4.0, got[1].Distance, 1e-6)
}

func TestSearchEmpty(t *testing.T) {
	tree := Build(nil, 3, 1)
	assert.Nil(t, tree.Search([]float32{0, 0, 0}, 3, -1))
	assert.Equal(t, 0, tree.Len())

	tree = Build([]float32{1, 1}, 2, 1)
	assert.Nil(t, tree.Search([]float32{0, 0}, 0, -1))
}

func TestSearchDuplicates(t *testing.T) {
	data := []float32{1, 1, 1, 1, 1, 1, 5, 5}
	tree := Build(data, 2, 9)
	got := tree.SearchPoint(0, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 0.0, got[0].Distance)
	assert.Equal(t, 0.0, got[1].Distance)
}
