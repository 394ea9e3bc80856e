package gradient

import "math"

// Params configures the optimizer.
type Params struct {
	// Eta is the learning rate; a negative value derives it from N.
	Eta           float64
	Momentum      float64 // momentum before MomSwitchingIter
	FinalMomentum float64 // momentum from MomSwitchingIter on
	MinimumGain   float64
	// UMult bounds a step to UMult times the previous velocity.
	UMult float64

	StopLyingIter    int
	MomSwitchingIter int

	// ExponentialDecay starts decaying the exaggeration at StopLyingIter
	// instead of resetting it to 1.
	ExponentialDecay bool
	// Decay is the per-iteration multiplicative exaggeration decay.
	Decay float64

	// InitialExaggeration applied to every point; 0 uses 10 + N/5000.
	InitialExaggeration float64

	// Theta is the Barnes–Hut accuracy; a negative value derives it from N.
	Theta float64

	// Seed of the initial embedding; -1 seeds from the wall clock.
	Seed int64

	// Workers bounds the goroutines of the repulsive force pass.
	Workers int
}

// DefaultParams returns the default optimizer parameters.
func DefaultParams() Params {
	return Params{
		Eta:              -1,
		Momentum:         0.5,
		FinalMomentum:    0.8,
		MinimumGain:      0.1,
		UMult:            10,
		StopLyingIter:    250,
		MomSwitchingIter: 250,
		Decay:            DecayFromHalfLife(70),
		Theta:            -1,
		Seed:             -1,
	}
}

// DecayFromHalfLife returns the per-iteration factor that halves the
// exaggeration every halfLife iterations.
func DecayFromHalfLife(halfLife int) float64 {
	if halfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, 1/float64(halfLife))
}

// AutoTheta returns the Barnes–Hut accuracy for n points:
// (n−1000)·0.00005 clamped to [0, 0.5].
func AutoTheta(n int) float64 {
	return min(0.5, max(0, (float64(n)-1000)*0.00005))
}

// AutoLearningRate returns the learning rate for n points under the given
// early exaggeration: n/(4·exaggeration) clamped to [1, 200].
func AutoLearningRate(n int, exaggeration float64) float64 {
	if exaggeration <= 0 {
		exaggeration = 1
	}
	return min(200, max(1, float64(n)/(4*exaggeration)))
}

// InitialExaggeration returns the early exaggeration for n points.
func InitialExaggeration(n int) float64 {
	return 10 + float64(n)/5000
}
