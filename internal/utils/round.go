package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundTo rounds v half away from zero to the given number of decimal places.
// NaN and infinities collapse to 0 so they never leak into JSON output.
func RoundTo(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Round2 rounds monetary amounts and percentages to cents.
func Round2(v float64) float64 {
	return RoundTo(v, 2)
}

// Round1 rounds durations expressed in hours or days.
func Round1(v float64) float64 {
	return RoundTo(v, 1)
}

// Percent returns part/total*100, or whenEmpty if total is zero.
func Percent(part, total int, whenEmpty float64) float64 {
	if total <= 0 {
		return whenEmpty
	}
	return decimal.NewFromInt(int64(part)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100)).
		InexactFloat64()
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
