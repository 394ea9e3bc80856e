package affinity

import "math"

// AreEqual compares two matrices with a numeric tolerance: row
// normalizations, betas, edge weights, neighbour sets, symmetric weights with their row normalizations and
// the normalization factor. It is meant for tests and regression checks.
func AreEqual(a, b *Matrix, eps float64) bool {
	if a.NumPoints() != b.NumPoints() {
		return false
	}
	if !near(a.NormalizationFactor(), b.NormalizationFactor(), eps) {
		return false
	}
	for i := range a.NumPoints() {
		id := uint32(i)
		if !rowsEqual(a.Row(id), b.Row(id), eps) {
			return false
		}
		sa, sb := a.Symmetric(id), b.Symmetric(id)
		if len(sa) != len(sb) {
			return false
		}
		for k := range sa {
			if sa[k].Index != sb[k].Index ||
				!near(sa[k].Forward, sb[k].Forward, eps) ||
				!near(sa[k].Backward, sb[k].Backward, eps) ||
				!near(sa[k].ForwardNorm, sb[k].ForwardNorm, eps) ||
				!near(sa[k].BackwardNorm, sb[k].BackwardNorm, eps) {
				return false
			}
		}
	}
	return true
}

func rowsEqual(a, b *Row, eps float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !near(a.Normalization, b.Normalization, eps) || !near(a.Beta, b.Beta, eps) {
		return false
	}
	if len(a.Neighbors) != len(b.Neighbors) {
		return false
	}
	for k := range a.Neighbors {
		if a.Neighbors[k].Index != b.Neighbors[k].Index || !near(a.Neighbors[k].P, b.Neighbors[k].P, eps) {
			return false
		}
	}
	return true
}

func near(x, y, eps float64) bool {
	return math.Abs(x-y) <= eps
}
