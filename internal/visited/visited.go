// Package visited tracks which points a single neighbour query has already
// scored, so that overlapping trees of a forest never report a point twice.
package visited

import "github.com/bits-and-blooms/bitset"

// VisitedSet tracks visited points using a bitset and a dirty list for fast reset.
type VisitedSet struct {
	bits  *bitset.BitSet
	dirty []uint32
}

// New creates a new visited set for capacity points.
func New(capacity int) *VisitedSet {
	return &VisitedSet{
		bits:  bitset.New(uint(capacity)),
		dirty: make([]uint32, 0, 128),
	}
}

// Visit marks id as visited and reports whether it was unvisited before.
func (v *VisitedSet) Visit(id uint32) bool {
	if v.bits.Test(uint(id)) {
		return false
	}
	v.bits.Set(uint(id))
	v.dirty = append(v.dirty, id)
	return true
}

// Visited returns true if the point has been visited.
func (v *VisitedSet) Visited(id uint32) bool {
	return v.bits.Test(uint(id))
}

// Count returns the number of points visited since the last reset.
func (v *VisitedSet) Count() int {
	return len(v.dirty)
}

// Reset clears only the bits touched in the current session.
func (v *VisitedSet) Reset() {
	for _, id := range v.dirty {
		v.bits.Clear(uint(id))
	}
	v.dirty = v.dirty[:0]
}
