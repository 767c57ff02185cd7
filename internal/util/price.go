// Package util provides price rounding and contract formatting helpers
// shared across the engine.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick rounds x to the nearest tick increment, ties away from
// zero. For example, with tick=0.01, 1.2345 becomes 1.23 and 1.235
// becomes 1.24. Non-finite x and zero tick pass through unchanged; a
// negative tick is treated as its absolute value.
func RoundToTick(x, tick float64) float64 {
	d, step, ok := tickOperands(x, tick)
	if !ok {
		return x
	}
	f, _ := d.Div(step).Round(0).Mul(step).Float64()
	return f
}

// FloorToTick rounds x down to the nearest tick increment. Exact
// multiples stay put even when the binary float form of x/tick lands a
// hair below the integer, which is why this goes through decimal rather
// than math.Floor.
func FloorToTick(x, tick float64) float64 {
	d, step, ok := tickOperands(x, tick)
	if !ok {
		return x
	}
	f, _ := d.Div(step).Floor().Mul(step).Float64()
	return f
}

// CeilToTick rounds x up to the nearest tick increment.
func CeilToTick(x, tick float64) float64 {
	d, step, ok := tickOperands(x, tick)
	if !ok {
		return x
	}
	f, _ := d.Div(step).Ceil().Mul(step).Float64()
	return f
}

func tickOperands(x, tick float64) (decimal.Decimal, decimal.Decimal, bool) {
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(x), decimal.NewFromFloat(math.Abs(tick)), true
}
