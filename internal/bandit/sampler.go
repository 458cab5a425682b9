package bandit

import (
	"math"
	"math/rand/v2"
)

// sampleBeta draws one value from Beta(alpha, beta) as Ga/(Ga+Gb) over two
// gamma draws. The package-level rand/v2 generator is lock-cheap and never
// blocks the caller.
func sampleBeta(alpha, beta float64) float64 {
	if alpha <= 0 {
		alpha = 1
	}
	if beta <= 0 {
		beta = 1
	}
	ga := sampleGamma(alpha)
	gb := sampleGamma(beta)
	if ga+gb == 0 {
		return 0.5
	}
	return ga / (ga + gb)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia–Tsang. Shapes below
// one go through the boosting identity Gamma(a) = Gamma(a+1)·U^(1/a).
func sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := rand.Float64()
		for u == 0 {
			u = rand.Float64()
		}
		return sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := rand.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rand.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d-d*v+d*math.Log(v) {
			return d * v
		}
	}
}
