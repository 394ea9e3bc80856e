package probability

import "math"

// Normalize returns a copy of the row-major matrix with every dimension
// shifted to zero mean and all values divided by the largest absolute value.
func Normalize(data []float32, dim int) []float32 {
	out := make([]float32, len(data))
	copy(out, data)
	if dim <= 0 || len(data) == 0 {
		return out
	}
	n := len(data) / dim

	mean := make([]float64, dim)
	for i := range n {
		for d := range dim {
			mean[d] += float64(out[i*dim+d])
		}
	}
	for d := range mean {
		mean[d] /= float64(n)
	}

	var maxAbs float64
	for i := range n {
		for d := range dim {
			v := float64(out[i*dim+d]) - mean[d]
			out[i*dim+d] = float32(v)
			maxAbs = max(maxAbs, math.Abs(v))
		}
	}
	if maxAbs == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / maxAbs)
	}
	return out
}
