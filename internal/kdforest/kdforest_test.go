package kdforest

import (
	"testing"

	"github.com/hupe1980/tsnego/internal/knn"
	"github.com/hupe1980/tsnego/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForestRecall(t *testing.T) {
	rng := testutil.NewRNG(7)
	const n, dim, k = 500, 8, 10
	data, _ := rng.GaussianClusters(n, dim, 5, 20, 1)

	f := Build(data, dim, Config{NumTrees: 4, NumChecks: 256, Seed: 1})
	require.Equal(t, n, f.Len())
	require.Equal(t, 4, f.NumTrees())

	exact := knn.NewBruteForce(data, dim)
	recall := knn.SampleRecall(f, exact, k, 50, 2)
	assert.GreaterOrEqual(t, recall, 0.8)

	full := knn.SampleRecall(f.WithChecks(n), exact, k, 50, 2)
	assert.GreaterOrEqual(t, full, recall)
	assert.GreaterOrEqual(t, full, 0.95)
}

func TestSearchExcludesQueryAndSorts(t *testing.T) {
	rng := testutil.NewRNG(11)
	data := rng.UniformMatrix(200, 3)
	f := Build(data, 3, DefaultConfig())

	got := f.SearchPoint(5, 8)
	require.Len(t, got, 8)
	seen := map[uint32]bool{}
	for i, nb := range got {
		assert.NotEqual(t, uint32(5), nb.Index)
		assert.False(t, seen[nb.Index], "duplicate result %d", nb.Index)
		seen[nb.Index] = true
		if i > 0 {
			assert.LessOrEqual(t, got[i-1].Distance, nb.Distance)
		}
	}
}

func TestSearchSmallAndDegenerate(t *testing.T) {
	f := Build(nil, 2, DefaultConfig())
	assert.Equal(t, 0, f.Len())
	assert.Nil(t, f.Search([]float32{0, 0}, 3, 0, -1))

	// identical points produce a single leaf
	data := make([]float32, 2*50)
	f = Build(data, 2, Config{LeafSize: 4})
	got := f.SearchPoint(0, 5)
	require.Len(t, got, 5)
	for _, nb := range got {
		assert.Equal(t, 0.0, nb.Distance)
	}
}
