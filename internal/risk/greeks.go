package risk

import (
	"math"

	"flowgate/internal/types"
)

const daysPerYear = 365.0

// normCDF is the standard normal cumulative distribution.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

// Greeks computes closed-form Black-Scholes per-share sensitivities. Theta is
// expressed per calendar day, vega per 1 vol point. Expired or degenerate
// inputs return zero greeks; an expired contract contributes no exposure.
func Compute(optType types.OptionType, spot, strike, dteDays, iv, riskFree float64) types.Greeks {
	if dteDays <= 0 || spot <= 0 || strike <= 0 || iv <= 0 {
		return types.Greeks{IV: iv}
	}
	t := dteDays / daysPerYear
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (riskFree+iv*iv/2)*t) / (iv * sqrtT)
	d2 := d1 - iv*sqrtT

	pdf := normPDF(d1)
	gamma := pdf / (spot * iv * sqrtT)
	vega := spot * pdf * sqrtT / 100

	var delta, thetaYear float64
	if optType == types.Call {
		delta = normCDF(d1)
		thetaYear = -(spot*pdf*iv)/(2*sqrtT) - riskFree*strike*math.Exp(-riskFree*t)*normCDF(d2)
	} else {
		delta = normCDF(d1) - 1
		thetaYear = -(spot*pdf*iv)/(2*sqrtT) + riskFree*strike*math.Exp(-riskFree*t)*normCDF(-d2)
	}

	return types.Greeks{
		Delta: delta,
		Gamma: gamma,
		Theta: thetaYear / daysPerYear,
		Vega:  vega,
		IV:    iv,
	}
}
