package divergence

import (
	"context"
	"math"
	"testing"

	"github.com/hupe1980/tsnego/internal/affinity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pair returns two points that are each other's only neighbour.
func pair() *affinity.Matrix {
	m := affinity.New(2)
	m.SetRow(0, affinity.NewRow([]affinity.Neighbor{{Index: 1, P: 1}}, 1, 1, true))
	m.SetRow(1, affinity.NewRow([]affinity.Neighbor{{Index: 0, P: 1}}, 1, 1, true))
	m.Symmetrize()
	m.ComputeNormalizationFactor()
	return m
}

func TestComputeMatchesClosedForm(t *testing.T) {
	m := pair()
	y := []float64{0, 0, 3, 4}

	// p = (1 + 1)/4 per direction, q = (1/26) / sumQ
	sumQ := 2.0 / 26
	res := Compute(m, y, 2, sumQ)
	p := 0.5
	q := (1.0 / 26) / sumQ
	want := p * math.Log(p/q)
	assert.InDelta(t, 2*want, res.Total, 1e-12)
	assert.InDelta(t, want, res.Min, 1e-12)
	assert.InDelta(t, want, res.Max, 1e-12)
}

func TestComputeIgnoresExaggeration(t *testing.T) {
	m := pair()
	y := []float64{0, 0, 1, 0}
	before := Compute(m, y, 2, 1)
	m.SetAllExaggerations(12)
	assert.Equal(t, before, Compute(m, y, 2, 1))
}

func TestComputeWithTree(t *testing.T) {
	m := pair()
	y := []float64{0, 0, 3, 4}
	res, err := ComputeWithTree(context.Background(), m, y, 2, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, Compute(m, y, 2, 2.0/26).Total, res.Total, 1e-12)
}

func TestComputeOnSubset(t *testing.T) {
	m := affinity.New(3)
	m.SetRow(0, affinity.NewRow([]affinity.Neighbor{{Index: 1, P: 3}, {Index: 2, P: 1}}, 1, 1, true))
	m.SetRow(1, affinity.NewRow([]affinity.Neighbor{{Index: 0, P: 1}}, 1, 1, true))
	m.SetRow(2, affinity.NewRow([]affinity.Neighbor{{Index: 0, P: 1}}, 1, 1, true))
	m.Symmetrize()
	m.ComputeNormalizationFactor()

	// point 0 sees both neighbours at the same distance: q = 1/2 each
	y := []float64{0, 0, 1, 0, -1, 0}
	res := ComputeOnSubset(m, y, 2, []uint32{0})
	want := 0.75*math.Log(0.75/0.5) + 0.25*math.Log(0.25/0.5)
	assert.InDelta(t, want, res.Total, 1e-9)
	assert.Equal(t, res.Min, res.Max)

	assert.Equal(t, Result{}, ComputeOnSubset(m, y, 2, nil))
}

func TestComputeEmpty(t *testing.T) {
	assert.Equal(t, Result{}, Compute(affinity.New(0), nil, 2, 1))
}
