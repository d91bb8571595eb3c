package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet/internal/market"
)

// constantRangeCandles builds candles with a fixed high-low range, so the
// ATR converges to exactly that range.
func constantRangeCandles(n int, rng float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{Open: 100, High: 100 + rng/2, Low: 100 - rng/2, Close: 100}
	}
	return out
}

func TestComputeATRSeries(t *testing.T) {
	t.Run("constant range converges to the range", func(t *testing.T) {
		series, err := ComputeATRSeries(constantRangeCandles(60, 4), 14)
		require.NoError(t, err)
		require.NotEmpty(t, series)
		assert.InDelta(t, 4.0, series[len(series)-1], 1e-6)
	})

	t.Run("no candles errors", func(t *testing.T) {
		_, err := ComputeATRSeries(nil, 14)
		assert.Error(t, err)
	})

	t.Run("history shorter than the period errors", func(t *testing.T) {
		_, err := ComputeATRSeries(constantRangeCandles(14, 4), 14)
		assert.Error(t, err)
	})
}

func TestLatestATRShortHistory(t *testing.T) {
	assert.Equal(t, 0.0, LatestATR(constantRangeCandles(3, 4), 14))
}

func TestTrailingDistance(t *testing.T) {
	candles := constantRangeCandles(60, 4)

	assert.InDelta(t, 8.0, TrailingDistance(candles, 14, 2), 1e-6)
	assert.InDelta(t, 8.0, TrailingDistance(candles, 14, 0), 1e-6, "zero multiplier defaults to 2x")
	assert.Equal(t, 0.0, TrailingDistance(nil, 14, 2))
}
