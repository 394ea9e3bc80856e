package simd

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSquaredL2Kernels(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, dim := range []int{0, 1, 3, 4, 7, 8, 9, 31, 128} {
		a := make([]float32, dim)
		b := make([]float32, dim)
		for i := range a {
			a[i] = rng.Float32()*2 - 1
			b[i] = rng.Float32()*2 - 1
		}
		want := squaredL2Scalar(a, b)
		assert.InDelta(t, want, squaredL2Unroll4(a, b), 1e-4, "unroll4 dim=%d", dim)
		assert.InDelta(t, want, squaredL2Unroll8(a, b), 1e-4, "unroll8 dim=%d", dim)
	}
}

func TestParseKernel(t *testing.T) {
	k, ok := ParseKernel(" Unroll8 ")
	assert.True(t, ok)
	assert.Equal(t, Unroll8, k)
	assert.Equal(t, "unroll8", k.String())

	_, ok = ParseKernel("avx9000")
	assert.False(t, ok)
}

func TestSetKernel(t *testing.T) {
	prev := ActiveKernel()
	defer setKernel(prev)

	setKernel(Scalar)
	assert.Equal(t, Scalar, ActiveKernel())
	assert.InDelta(t, float32(27), SquaredL2([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-6)
}
