package knn

import (
	"testing"

	"github.com/hupe1980/tsnego/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBruteForce(t *testing.T) {
	data := []float32{0, 0, 1, 0, 5, 0, 2, 0}
	bf := NewBruteForce(data, 2)
	require.Equal(t, 4, bf.Len())

	got := bf.SearchPoint(0, 2)
	require.Len(t, got, 2)
	assert.Equal(t, Neighbor{Index: 1, Distance: 1}, got[0])
	assert.Equal(t, Neighbor{Index: 3, Distance: 4}, got[1])

	assert.Len(t, bf.SearchPoint(2, 10), 3)
	assert.Nil(t, bf.SearchPoint(0, 0))
}

func TestRecall(t *testing.T) {
	truth := []Neighbor{{Index: 1}, {Index: 2}}
	assert.Equal(t, 0.5, Recall(truth, []Neighbor{{Index: 2}, {Index: 7}}))
	assert.Equal(t, 1.0, Recall(nil, nil))
}

func TestSampleRecallOfExactIsOne(t *testing.T) {
	data := testutil.NewRNG(3).UniformMatrix(50, 4)
	bf := NewBruteForce(data, 4)
	assert.Equal(t, 1.0, SampleRecall(bf, bf, 5, 10, 1))
}
