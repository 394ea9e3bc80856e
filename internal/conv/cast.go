package conv

import (
	"fmt"
	"math"
)

// IntToUint32 converts int to uint32 safely.
func IntToUint32(v int) (uint32, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint32 (negative)", v)
	}
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint32 (too large)", v)
	}
	return uint32(v), nil
}

// PointIDs converts host supplied indices into point ids below n.
func PointIDs(indices []int, n int) ([]uint32, error) {
	out := make([]uint32, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("point index %d out of range [0,%d)", idx, n)
		}
		out = append(out, uint32(idx))
	}
	return out, nil
}
