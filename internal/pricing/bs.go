// Package pricing provides the Black-Scholes formulas used for contract selection
// and for the synthetic market generator.
package pricing

import "math"

// DefaultRiskFreeRate is the annual rate used when selecting contracts by delta.
const DefaultRiskFreeRate = 0.07

// d1 is the standardized moneyness term shared by delta and price.
func d1(S, K, T, r, sigma float64) float64 {
	return (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
}

// Delta returns the Black-Scholes delta: N(d1) for calls, N(d1)-1 for puts.
//
// There is no guard for sigma == 0 or T <= 0. Those inputs follow IEEE arithmetic
// and may produce +/-1, 0 or NaN; callers decide how to treat a NaN delta.
func Delta(isCall bool, S, K, T, r, sigma float64) float64 {
	nd1 := NormCDF(d1(S, K, T, r, sigma))
	if isCall {
		return nd1
	}
	return nd1 - 1
}

// Price returns the Black-Scholes price of a European option.
// With no time or no volatility left it returns the intrinsic value.
func Price(isCall bool, S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		if isCall {
			return math.Max(0, S-K)
		}
		return math.Max(0, K-S)
	}

	dd1 := d1(S, K, T, r, sigma)
	dd2 := dd1 - sigma*math.Sqrt(T)
	if isCall {
		return S*NormCDF(dd1) - K*math.Exp(-r*T)*NormCDF(dd2)
	}
	return K*math.Exp(-r*T)*NormCDF(-dd2) - S*NormCDF(-dd1)
}

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
