// Package util provides tick rounding for quoted prices.
package util

import "math"

// tickEpsilon absorbs float error in x/tick so exact multiples stay put.
const tickEpsilon = 1e-12

func ticks(x, tick float64) (float64, float64, bool) {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, 0, false
	}
	return x / tick, tick, true
}

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.01, 1.235 becomes 1.24.
func RoundToTick(x, tick float64) float64 {
	q, t, ok := ticks(x, tick)
	if !ok {
		return x
	}
	return math.Round(q+math.Copysign(tickEpsilon, q)) * t
}

// FloorToTick rounds x down to a tick increment.
func FloorToTick(x, tick float64) float64 {
	q, t, ok := ticks(x, tick)
	if !ok {
		return x
	}
	return math.Floor(q+tickEpsilon) * t
}

// CeilToTick rounds x up to a tick increment.
func CeilToTick(x, tick float64) float64 {
	q, t, ok := ticks(x, tick)
	if !ok {
		return x
	}
	return math.Ceil(q-tickEpsilon) * t
}
