package probability

import "math"

// Calibration is the outcome of a bandwidth search for one point.
type Calibration struct {
	Beta       float64 // Gaussian precision the weights were computed with
	Entropy    float64 // entropy of the normalized weights, in nats
	Iterations int
	Converged  bool
}

// Calibrate searches the Gaussian precision beta for which the entropy of
// the weights exp(-beta·dist[k]) equals log(perplexity) within tol. dist
// holds squared distances; the unnormalized weights are written to p, which
// must have the same length. A search that does not converge within maxIter
// steps keeps its last weights and reports Converged=false.
func Calibrate(dist, p []float64, perplexity, tol float64, maxIter int) Calibration {
	target := math.Log(perplexity)
	beta := 1.0
	minBeta := -math.MaxFloat64
	maxBeta := math.MaxFloat64

	c := Calibration{Beta: beta}
	for c.Iterations < maxIter {
		c.Iterations++
		c.Beta = beta

		sumP := math.SmallestNonzeroFloat64
		for k, d := range dist {
			p[k] = math.Exp(-beta * d)
			sumP += p[k]
		}
		var h float64
		for k, d := range dist {
			h += beta * d * p[k]
		}
		c.Entropy = h/sumP + math.Log(sumP)

		diff := c.Entropy - target
		if math.Abs(diff) < tol {
			c.Converged = true
			return c
		}

		if diff > 0 {
			minBeta = beta
			if maxBeta == math.MaxFloat64 || maxBeta == -math.MaxFloat64 {
				beta *= 2
			} else {
				beta = (beta + maxBeta) / 2
			}
		} else {
			maxBeta = beta
			if minBeta == -math.MaxFloat64 || minBeta == math.MaxFloat64 {
				beta /= 2
			} else {
				beta = (beta + minBeta) / 2
			}
		}
	}
	return c
}
