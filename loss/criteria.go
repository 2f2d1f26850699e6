package loss

import (
	"math"
)

// sigmoid of a float32 logit
func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// bceWithLogits is the numerically stable elementwise binary cross entropy
// on a raw logit: max(x,0) - x*z + log(1 + exp(-|x|))
func bceWithLogits(logit, target float32) float64 {

	x := float64(logit)
	z := float64(target)

	return math.Max(x, 0) - x*z + math.Log1p(math.Exp(-math.Abs(x)))
}

// smoothBCE returns the positive and negative label values for a smoothing
// epsilon
func smoothBCE(eps float32) (cp, cn float32) {
	return 1.0 - 0.5*eps, 0.5 * eps
}

// criterion is an elementwise binary cross entropy on logits, optionally
// wrapped in focal loss modulation when gamma is positive
type criterion struct {
	gamma float32
	alpha float32
}

// newCriterion builds a criterion, flGamma of zero gives plain BCE
func newCriterion(flGamma float32) criterion {
	return criterion{
		gamma: flGamma,
		alpha: 0.25,
	}
}

// eval returns the loss for one logit/target element
func (c criterion) eval(logit, target float32) float64 {

	l := bceWithLogits(logit, target)

	if c.gamma <= 0 {
		return l
	}

	// focal modulation: down weight well classified elements
	p := float64(sigmoid(logit))
	z := float64(target)
	pt := z*p + (1-z)*(1-p)
	alphaFactor := z*float64(c.alpha) + (1-z)*(1-float64(c.alpha))

	return l * alphaFactor * math.Pow(1-pt, float64(c.gamma))
}
