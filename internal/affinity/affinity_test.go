package affinity

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T) *Matrix {
	t.Helper()
	// 0→1, 1→2, 2→0 and 2→1
	m := New(3)
	m.SetRow(0, NewRow([]Neighbor{{Index: 1, P: 0.5}}, 1, 1, true))
	m.SetRow(1, NewRow([]Neighbor{{Index: 2, P: 0.25}}, 2, 1, true))
	m.SetRow(2, NewRow([]Neighbor{{Index: 1, P: 0.2}, {Index: 0, P: 0.1}}, 4, 1, true))
	m.Symmetrize()
	m.ComputeNormalizationFactor()
	return m
}

func assertSymmetric(t *testing.T, m *Matrix) {
	t.Helper()
	for i := range m.NumPoints() {
		id := uint32(i)
		for _, nb := range m.Row(id).Neighbors {
			found := false
			for _, e := range m.Symmetric(nb.Index) {
				if e.Index == id {
					found = true
					assert.Equal(t, nb.P, e.Backward)
					assert.Equal(t, m.Row(id).Normalization, e.BackwardNorm)
				}
			}
			assert.True(t, found, "sym[%d] misses %d", nb.Index, id)
		}
		for _, e := range m.Symmetric(id) {
			w, _ := m.Row(id).Weight(e.Index)
			assert.Equal(t, w, e.Forward)
			assert.Equal(t, m.Row(id).Normalization, e.ForwardNorm)
		}
	}
}

func TestNewRowSortsAndSums(t *testing.T) {
	r := NewRow([]Neighbor{{Index: 5, P: 1}, {Index: 2, P: 2}, {Index: 5, P: 9}}, 1, 0.5, false)
	require.Len(t, r.Neighbors, 2)
	assert.Equal(t, uint32(2), r.Neighbors[0].Index)
	assert.Equal(t, 1.0, r.Neighbors[1].P)
	assert.Equal(t, 3.0, r.Normalization)

	w, ok := r.Weight(2)
	assert.True(t, ok)
	assert.Equal(t, 2.0, w)
	_, ok = r.Weight(3)
	assert.False(t, ok)
}

func TestSymmetrize(t *testing.T) {
	m := chain(t)
	assertSymmetric(t, m)

	s0 := m.Symmetric(0)
	require.Len(t, s0, 2)
	assert.Equal(t, SymmetricEntry{Index: 1, Forward: 0.5, Backward: 0, ForwardNorm: 0.5, BackwardNorm: 0.25}, s0[0])
	assert.Equal(t, SymmetricEntry{Index: 2, Forward: 0, Backward: 0.1, ForwardNorm: 0.5, BackwardNorm: 0.3}, s0[1])
	assert.Equal(t, 6.0, m.NormalizationFactor())
}

func TestJointProbability(t *testing.T) {
	m := chain(t)
	e := m.Symmetric(2)[1] // 2↔1
	require.Equal(t, uint32(1), e.Index)

	// (0.2/0.3 + 0.25/0.25) / 6
	want := (0.2/0.3 + 1) / 6
	assert.InDelta(t, want, m.JointProbability(2, e, false), 1e-12)

	m.SetExaggeration(2, 4)
	assert.InDelta(t, (4*0.2/0.3+1)/6, m.JointProbability(2, e, true), 1e-12)
	assert.InDelta(t, want, m.JointProbability(2, e, false), 1e-12)
}

func TestReplaceRowKeepsSymmetry(t *testing.T) {
	m := chain(t)
	m.ReplaceRow(0, NewRow([]Neighbor{{Index: 2, P: 0.7}}, 3, 1, true))
	assertSymmetric(t, m)

	// 0↔1 no longer related in either direction
	for _, e := range m.Symmetric(1) {
		assert.NotEqual(t, uint32(0), e.Index)
	}
	s0 := m.Symmetric(0)
	require.Len(t, s0, 1)
	assert.Equal(t, SymmetricEntry{Index: 2, Forward: 0.7, Backward: 0.1, ForwardNorm: 0.7, BackwardNorm: 0.3}, s0[0])
}

func TestReplaceRowMatchesFreshSymmetrize(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	const n = 40
	randomRow := func(i int) *Row {
		var ns []Neighbor
		for len(ns) < 5 {
			j := rnd.Intn(n)
			if j != i {
				ns = append(ns, Neighbor{Index: uint32(j), P: rnd.Float64()})
			}
		}
		return NewRow(ns, 1, 1, true)
	}

	live := New(n)
	for i := range n {
		live.SetRow(uint32(i), randomRow(i))
	}
	live.Symmetrize()
	live.ComputeNormalizationFactor()

	for range 30 {
		i := rnd.Intn(n)
		live.ReplaceRow(uint32(i), randomRow(i))
	}

	fresh := New(n)
	for i := range n {
		fresh.SetRow(uint32(i), live.Row(uint32(i)))
	}
	fresh.Symmetrize()
	fresh.ComputeNormalizationFactor()

	assert.True(t, AreEqual(live, fresh, 1e-12))
	assertSymmetric(t, live)
}

func TestExaggeration(t *testing.T) {
	m := chain(t)
	for i := range 3 {
		assert.Equal(t, 1.0, m.Exaggeration(uint32(i)))
	}

	m.SetAllExaggerations(12)
	m.DecayExaggerations(0.5)
	assert.Equal(t, 6.0, m.Exaggeration(0))
	m.DecayExaggerations(0.1)
	assert.Equal(t, 1.0, m.Exaggeration(1))

	m.ExaggeratePointNeighborhood(2, 3)
	assert.Equal(t, 3.0, m.Exaggeration(2))
	assert.Equal(t, 3.0, m.Exaggeration(1))
	assert.Equal(t, 3.0, m.Exaggeration(0))

	m.SetExaggeration(1, 0.5)
	m.DecayExaggerations(0.9)
	assert.Equal(t, 0.5, m.Exaggeration(1))
}

func TestAreEqual(t *testing.T) {
	a, b := chain(t), chain(t)
	assert.True(t, AreEqual(a, b, 0))

	b.ReplaceRow(1, NewRow([]Neighbor{{Index: 2, P: 0.25 + 1e-9}}, 2, 1, true))
	assert.True(t, AreEqual(a, b, 1e-6))
	assert.False(t, AreEqual(a, b, 1e-12))
	assert.False(t, AreEqual(a, New(2), 1))
}

func TestResizeAndClear(t *testing.T) {
	m := chain(t)
	m.Clear()
	assert.Equal(t, 0, m.NumPoints())
	assert.Equal(t, 0.0, m.NormalizationFactor())

	m.Resize(4)
	assert.Equal(t, 4, m.NumPoints())
	assert.Nil(t, m.Row(3))
	assert.Nil(t, m.Symmetric(3))
}

func TestConcurrentReadersDuringReplace(t *testing.T) {
	m := chain(t)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for i := range 3 {
					for _, e := range m.Symmetric(uint32(i)) {
						assert.GreaterOrEqual(t, m.JointProbability(uint32(i), e, true), 0.0)
					}
				}
			}
		}()
	}
	for k := range 200 {
		p := float64(k%7+1) / 10
		m.ReplaceRow(uint32(k%3), NewRow([]Neighbor{{Index: uint32((k + 1) % 3), P: p}}, 1, 1, true))
	}
	close(stop)
	wg.Wait()
}

func TestJointProbabilitySnapshotConsistent(t *testing.T) {
	m := chain(t)
	e := m.Symmetric(2)[1] // 2↔1, taken before row 2 changes
	want := m.JointProbability(2, e, false)

	m.ReplaceRow(2, NewRow([]Neighbor{{Index: 1, P: 0.9}, {Index: 0, P: 0.9}}, 4, 1, true))

	assert.InDelta(t, want, m.JointProbability(2, e, false), 1e-12)
	fresh := m.Symmetric(2)[1]
	assert.Equal(t, 1.8, fresh.ForwardNorm)
	assert.InDelta(t, (0.5+1)/6, m.JointProbability(2, fresh, false), 1e-12)
}
