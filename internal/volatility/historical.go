// Package volatility estimates trailing realized volatility from daily closes.
package volatility

import "math"

const (
	// DefaultLookback is the rolling window, in daily returns.
	DefaultLookback = 252
	// DefaultVolatility stands in for dates without a full window. It is a policy
	// value so every trading date has a usable volatility, not a statistical estimate.
	DefaultVolatility = 0.3
	// tradingDaysPerYear annualizes the daily standard deviation.
	tradingDaysPerYear = 252.0
)

// Historical returns the annualized rolling standard deviation of log returns.
// Entry i covers the lookback returns ending at i and is NaN until that window is
// complete, so the first lookback entries (index 0 has no return) are undefined.
// A window touching a non-positive close is also NaN.
func Historical(closes []float64, lookback int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if lookback < 2 || len(closes) <= lookback {
		return out
	}

	returns := make([]float64, len(closes))
	returns[0] = math.NaN()
	for i := 1; i < len(closes); i++ {
		if closes[i] <= 0 || closes[i-1] <= 0 {
			returns[i] = math.NaN()
			continue
		}
		returns[i] = math.Log(closes[i] / closes[i-1])
	}

	for i := lookback; i < len(closes); i++ {
		out[i] = sampleStdDev(returns[i-lookback+1:i+1]) * math.Sqrt(tradingDaysPerYear)
	}
	return out
}

// Fill replaces undefined entries with def in place and returns vols.
func Fill(vols []float64, def float64) []float64 {
	for i, v := range vols {
		if math.IsNaN(v) {
			vols[i] = def
		}
	}
	return vols
}

// Series computes Historical and fills the undefined prefix with def.
func Series(closes []float64, lookback int, def float64) []float64 {
	return Fill(Historical(closes, lookback), def)
}

func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	mean := 0.0
	for _, x := range xs {
		if math.IsNaN(x) {
			return math.NaN()
		}
		mean += x
	}
	mean /= float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
