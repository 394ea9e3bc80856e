package simd

import (
	"os"
	"strings"
)

// Kernel identifies a distance kernel variant.
type Kernel uint8

const (
	// Scalar is a plain single-accumulator loop.
	Scalar Kernel = iota
	// Unroll4 uses four independent accumulators.
	Unroll4
	// Unroll8 uses eight independent accumulators.
	Unroll8
)

// String returns the string representation of a Kernel.
func (k Kernel) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Unroll4:
		return "unroll4"
	case Unroll8:
		return "unroll8"
	default:
		return "unknown"
	}
}

// ParseKernel parses a kernel name.
func ParseKernel(s string) (Kernel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalar", "generic":
		return Scalar, true
	case "unroll4":
		return Unroll4, true
	case "unroll8":
		return Unroll8, true
	default:
		return Scalar, false
	}
}

// Package-level state, written once from the platform init functions.
var (
	activeKernel Kernel

	// CPU feature flags (set by platform-specific init)
	hasASIMD   bool // ARM64 NEON
	hasAVX2    bool // x86-64 AVX2 + FMA
	hasAVX512F bool // x86-64 AVX-512 Foundation
)

func initCapabilities() {
	if override := os.Getenv("TSNEGO_SIMD"); override != "" {
		if k, ok := ParseKernel(override); ok {
			setKernel(k)
			return
		}
	}

	setKernel(selectBestKernel())
}

func selectBestKernel() Kernel {
	switch {
	case hasAVX512F:
		return Unroll8
	case hasAVX2, hasASIMD:
		return Unroll4
	default:
		return Scalar
	}
}

// ActiveKernel returns the kernel selected at init.
func ActiveKernel() Kernel {
	return activeKernel
}
