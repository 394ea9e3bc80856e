// Package affinity holds the sparse high-dimensional affinity matrix of an
// embedding run.
//
// Every point owns an immutable Row snapshot (its neighbours with their
// unnormalized Gaussian weights and calibration scalars) and a symmetric
// table listing, for each related point, the weight in both directions.
// Readers load snapshots lock-free through atomic pointers; writers publish
// whole replacement rows, so a reader never observes a partially updated
// neighbour list. Per-point exaggeration factors are atomics and may be
// changed while the optimizer runs.
package affinity

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// Neighbor is one directed edge of a row.
type Neighbor struct {
	Index uint32
	P     float64 // unnormalized probability
}

// Row is the affinity row of a single point. Rows are immutable once
// published to a Matrix.
type Row struct {
	// Neighbors is sorted by Index, indices are unique.
	Neighbors []Neighbor
	// Beta is the Gaussian precision found by calibration.
	Beta float64
	// Normalization is the sum of all neighbour weights.
	Normalization float64
	// Precision is the fraction of the true nearest neighbours captured.
	Precision float64
	// Converged reports whether calibration reached its tolerance.
	Converged bool
}

// NewRow builds a row from unsorted neighbours. Duplicate indices keep the
// first weight.
func NewRow(neighbors []Neighbor, beta, precision float64, converged bool) *Row {
	ns := slices.Clone(neighbors)
	slices.SortStableFunc(ns, func(a, b Neighbor) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		default:
			return 0
		}
	})
	ns = slices.CompactFunc(ns, func(a, b Neighbor) bool { return a.Index == b.Index })

	var sum float64
	for _, n := range ns {
		sum += n.P
	}
	return &Row{
		Neighbors:     ns,
		Beta:          beta,
		Normalization: sum,
		Precision:     precision,
		Converged:     converged,
	}
}

// Weight returns the weight of edge i→j.
func (r *Row) Weight(j uint32) (float64, bool) {
	if r == nil {
		return 0, false
	}
	k, ok := r.find(j)
	if !ok {
		return 0, false
	}
	return r.Neighbors[k].P, true
}

func (r *Row) find(j uint32) (int, bool) {
	return slices.BinarySearchFunc(r.Neighbors, j, func(n Neighbor, t uint32) int {
		switch {
		case n.Index < t:
			return -1
		case n.Index > t:
			return 1
		default:
			return 0
		}
	})
}

// SymmetricEntry relates point i to point Index in both directions. Each
// weight travels with the normalization of the row it was read from, so a
// table snapshot stays consistent while rows are replaced.
type SymmetricEntry struct {
	Index        uint32
	Forward      float64 // weight of i→Index, 0 if absent
	Backward     float64 // weight of Index→i, 0 if absent
	ForwardNorm  float64 // normalization of row i
	BackwardNorm float64 // normalization of row Index
}

func norm(r *Row) float64 {
	if r == nil {
		return 0
	}
	return r.Normalization
}

// Matrix is the sparse affinity matrix. The zero value is empty; call Resize.
type Matrix struct {
	rows       []atomic.Pointer[Row]
	sym        []atomic.Pointer[[]SymmetricEntry]
	exag       []atomic.Uint64
	normFactor atomic.Uint64

	// serializes writers; readers never take it
	mu sync.Mutex
}

// New returns a matrix sized for n points.
func New(n int) *Matrix {
	m := &Matrix{}
	m.Resize(n)
	return m
}

// Resize allocates all per-point state for n points. Existing content is
// discarded.
func (m *Matrix) Resize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = make([]atomic.Pointer[Row], n)
	m.sym = make([]atomic.Pointer[[]SymmetricEntry], n)
	m.exag = make([]atomic.Uint64, n)
	one := math.Float64bits(1)
	for i := range m.exag {
		m.exag[i].Store(one)
	}
	m.normFactor.Store(0)
}

// Clear releases all per-point state.
func (m *Matrix) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = nil
	m.sym = nil
	m.exag = nil
	m.normFactor.Store(0)
}

// NumPoints returns the number of points.
func (m *Matrix) NumPoints() int { return len(m.rows) }

// Row returns the current row snapshot of point i, or nil before SetRow.
func (m *Matrix) Row(i uint32) *Row { return m.rows[i].Load() }

// Symmetric returns the current symmetric table of point i, sorted by Index.
// The returned slice must not be modified.
func (m *Matrix) Symmetric(i uint32) []SymmetricEntry {
	p := m.sym[i].Load()
	if p == nil {
		return nil
	}
	return *p
}

// SetRow stores the initial row of point i without touching the symmetric
// tables. Call Symmetrize once all rows are set.
func (m *Matrix) SetRow(i uint32, r *Row) { m.rows[i].Store(r) }

// Symmetrize builds every symmetric table from the current rows. Every edge
// found in one direction only gets a zero weight entry for the other.
func (m *Matrix) Symmetrize() {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.rows)
	rev := make([][]uint32, n)
	for i := range n {
		r := m.rows[i].Load()
		if r == nil {
			continue
		}
		for _, nb := range r.Neighbors {
			rev[nb.Index] = append(rev[nb.Index], uint32(i))
		}
	}

	for i := range n {
		ri := m.rows[i].Load()
		var fwd []Neighbor
		if ri != nil {
			fwd = ri.Neighbors
		}
		entries := make([]SymmetricEntry, 0, len(fwd)+len(rev[i]))
		for _, nb := range fwd {
			entries = append(entries, SymmetricEntry{Index: nb.Index, Forward: nb.P, ForwardNorm: ri.Normalization})
		}
		for _, j := range rev[i] {
			if ri != nil {
				if _, ok := ri.find(j); ok {
					continue
				}
			}
			entries = append(entries, SymmetricEntry{Index: j, ForwardNorm: norm(ri)})
		}
		sortEntries(entries)
		for k := range entries {
			rj := m.rows[entries[k].Index].Load()
			entries[k].Backward, _ = rj.Weight(uint32(i))
			entries[k].BackwardNorm = norm(rj)
		}
		m.sym[i].Store(&entries)
	}
}

// ReplaceRow publishes a refined row for point i and updates the symmetric
// tables of i and of every old or new neighbour.
func (m *Matrix) ReplaceRow(i uint32, r *Row) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.rows[i].Load()
	m.rows[i].Store(r)

	// sym[i]: new forward edges plus every point still pointing at i
	var entries []SymmetricEntry
	for _, nb := range r.Neighbors {
		rj := m.rows[nb.Index].Load()
		back, _ := rj.Weight(i)
		entries = append(entries, SymmetricEntry{
			Index:        nb.Index,
			Forward:      nb.P,
			Backward:     back,
			ForwardNorm:  r.Normalization,
			BackwardNorm: norm(rj),
		})
	}
	for _, e := range m.Symmetric(i) {
		if _, ok := r.find(e.Index); ok {
			continue
		}
		rj := m.rows[e.Index].Load()
		if back, ok := rj.Weight(i); ok {
			entries = append(entries, SymmetricEntry{
				Index:        e.Index,
				Backward:     back,
				ForwardNorm:  r.Normalization,
				BackwardNorm: norm(rj),
			})
		}
	}
	sortEntries(entries)
	m.sym[i].Store(&entries)

	affected := make(map[uint32]struct{}, len(r.Neighbors))
	if old != nil {
		for _, nb := range old.Neighbors {
			affected[nb.Index] = struct{}{}
		}
	}
	for _, nb := range r.Neighbors {
		affected[nb.Index] = struct{}{}
	}
	for j := range affected {
		m.updateEntry(j, i, r)
	}
}

// updateEntry rewrites the entry for point i in sym[j] after row i changed.
func (m *Matrix) updateEntry(j, i uint32, ri *Row) {
	rj := m.rows[j].Load()
	fwd, inJ := rj.Weight(i)
	back, inI := ri.Weight(j)
	entry := SymmetricEntry{
		Index:        i,
		Forward:      fwd,
		Backward:     back,
		ForwardNorm:  norm(rj),
		BackwardNorm: ri.Normalization,
	}

	cur := m.Symmetric(j)
	k, found := slices.BinarySearchFunc(cur, i, func(e SymmetricEntry, t uint32) int {
		switch {
		case e.Index < t:
			return -1
		case e.Index > t:
			return 1
		default:
			return 0
		}
	})

	var next []SymmetricEntry
	switch {
	case !inJ && !inI:
		if !found {
			return
		}
		next = slices.Delete(slices.Clone(cur), k, k+1)
	case found:
		next = slices.Clone(cur)
		next[k] = entry
	default:
		next = slices.Insert(slices.Clone(cur), k, entry)
	}
	m.sym[j].Store(&next)
}

func sortEntries(entries []SymmetricEntry) {
	slices.SortFunc(entries, func(a, b SymmetricEntry) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		default:
			return 0
		}
	})
}

// ComputeNormalizationFactor sets the global normalization factor to 2N
// and returns it.
func (m *Matrix) ComputeNormalizationFactor() float64 {
	f := 2 * float64(len(m.rows))
	m.normFactor.Store(math.Float64bits(f))
	return f
}

// NormalizationFactor returns the value set by ComputeNormalizationFactor.
func (m *Matrix) NormalizationFactor() float64 {
	return math.Float64frombits(m.normFactor.Load())
}

// Exaggeration returns the exaggeration factor of point i.
func (m *Matrix) Exaggeration(i uint32) float64 {
	return math.Float64frombits(m.exag[i].Load())
}

// SetExaggeration sets the exaggeration factor of point i.
func (m *Matrix) SetExaggeration(i uint32, f float64) {
	m.exag[i].Store(math.Float64bits(f))
}

// SetAllExaggerations sets every exaggeration factor to f.
func (m *Matrix) SetAllExaggerations(f float64) {
	bits := math.Float64bits(f)
	for i := range m.exag {
		m.exag[i].Store(bits)
	}
}

// DecayExaggerations multiplies every factor above 1 by decay, clamped to a
// floor of 1.
func (m *Matrix) DecayExaggerations(decay float64) {
	for i := range m.exag {
		for {
			oldBits := m.exag[i].Load()
			old := math.Float64frombits(oldBits)
			if old <= 1 {
				break
			}
			next := max(1, old*decay)
			if m.exag[i].CompareAndSwap(oldBits, math.Float64bits(next)) {
				break
			}
		}
	}
}

// ExaggeratePointNeighborhood sets the factor of point n and of every
// neighbour in its row.
func (m *Matrix) ExaggeratePointNeighborhood(n uint32, factor float64) {
	m.SetExaggeration(n, factor)
	if r := m.Row(n); r != nil {
		for _, nb := range r.Neighbors {
			m.SetExaggeration(nb.Index, factor)
		}
	}
}

// JointProbability returns the symmetric joint probability of point i and
// e.Index, (w_ij/Z_i + w_ji/Z_j) / (2N). The normalizations come from the
// entry, so weights and normalizations always belong to the same rows. With
// exaggerated set each direction is scaled by the exaggeration factor of
// its source point.
func (m *Matrix) JointProbability(i uint32, e SymmetricEntry, exaggerated bool) float64 {
	factor := m.NormalizationFactor()
	if factor == 0 {
		return 0
	}
	var p float64
	if e.ForwardNorm > 0 && e.Forward != 0 {
		w := e.Forward / e.ForwardNorm
		if exaggerated {
			w *= m.Exaggeration(i)
		}
		p += w
	}
	if e.BackwardNorm > 0 && e.Backward != 0 {
		w := e.Backward / e.BackwardNorm
		if exaggerated {
			w *= m.Exaggeration(e.Index)
		}
		p += w
	}
	return p / factor
}
