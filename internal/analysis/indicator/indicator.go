// Package indicator computes volatility measures from completed bars.
// The order router uses ATR to derive a sensible trailing-stop distance
// when a decision doesn't specify one.
package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"fleet/internal/market"
)

const defaultATRPeriod = 14

// ComputeATRSeries computes the ATR series over the given candles.
func ComputeATRSeries(candles []market.Candle, period int) ([]float64, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles")
	}
	if period <= 0 {
		period = defaultATRPeriod
	}
	// talib.Atr needs more than one full period of bars; anything shorter
	// reads out of range.
	if len(candles) <= period {
		return nil, fmt.Errorf("need more than %d candles for atr, have %d", period, len(candles))
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	series := sanitizeSeries(talib.Atr(highs, lows, closes, period))
	if len(series) == 0 {
		return nil, fmt.Errorf("atr series empty")
	}
	return series, nil
}

// LatestATR returns the most recent ATR value, or 0 when there is not
// enough history.
func LatestATR(candles []market.Candle, period int) float64 {
	series, err := ComputeATRSeries(candles, period)
	if err != nil {
		return 0
	}
	return series[len(series)-1]
}

// TrailingDistance suggests a trailing-stop offset as a multiple of ATR.
// A zero multiplier defaults to 2x.
func TrailingDistance(candles []market.Candle, period int, multiplier float64) float64 {
	if multiplier <= 0 {
		multiplier = 2
	}
	atr := LatestATR(candles, period)
	if atr <= 0 {
		return 0
	}
	return atr * multiplier
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
