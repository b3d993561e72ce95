package fno

import "math"

// Greeks are advisory option sensitivities. They come from a plain
// Black-Scholes model on the index spot, good enough for strike
// selection but not for pricing.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// ComputeGreeks evaluates Black-Scholes greeks for a European option.
// t is time to expiry in years, sigma the annualised volatility. Theta
// is expressed per calendar day, vega per volatility point.
func ComputeGreeks(spot, strike, t, r, sigma float64, right Right) Greeks {
	if spot <= 0 || strike <= 0 || t <= 0 || sigma <= 0 {
		return Greeks{}
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	g := Greeks{
		Gamma: normPDF(d1) / (spot * sigma * sqrtT),
		Vega:  spot * normPDF(d1) * sqrtT / 100,
	}
	if right == RightCall {
		g.Delta = normCDF(d1)
		g.Theta = (-spot*normPDF(d1)*sigma/(2*sqrtT) - r*strike*math.Exp(-r*t)*normCDF(d2)) / 365
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = (-spot*normPDF(d1)*sigma/(2*sqrtT) + r*strike*math.Exp(-r*t)*normCDF(-d2)) / 365
	}
	return g
}

// price evaluates the Black-Scholes option price.
func price(spot, strike, t, r, sigma float64, right Right) float64 {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	if right == RightCall {
		return spot*normCDF(d1) - strike*math.Exp(-r*t)*normCDF(d2)
	}
	return strike*math.Exp(-r*t)*normCDF(-d2) - spot*normCDF(-d1)
}

// ImpliedVolatility backs out the volatility matching an observed
// option premium by bisection. Returns 0 when the premium is outside
// model bounds.
func ImpliedVolatility(spot, strike, t, r, premium float64, right Right) float64 {
	if spot <= 0 || strike <= 0 || t <= 0 || premium <= 0 {
		return 0
	}
	lo, hi := 0.001, 5.0
	if price(spot, strike, t, r, lo, right) > premium || price(spot, strike, t, r, hi, right) < premium {
		return 0
	}
	for i := 0; i < 64; i++ {
		mid := (lo + hi) / 2
		if price(spot, strike, t, r, mid, right) < premium {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
