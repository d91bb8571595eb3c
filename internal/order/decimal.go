package order

import (
	"math"

	"github.com/shopspring/decimal"
)

var decimalZero = decimal.Zero

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// vwap folds one more fill into a volume-weighted average price.
func vwap(avg, filled, price, volume float64) float64 {
	total := decFromFloat(filled).Add(decFromFloat(volume))
	if total.Sign() <= 0 {
		return avg
	}
	notional := decFromFloat(avg).Mul(decFromFloat(filled)).
		Add(decFromFloat(price).Mul(decFromFloat(volume)))
	return decToFloat(notional.Div(total))
}
