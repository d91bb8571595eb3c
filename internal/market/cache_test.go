package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleCache(t *testing.T) {
	t.Run("append and recent", func(t *testing.T) {
		cache := NewCandleCache(3)
		for i := 0; i < 5; i++ {
			cache.Append(CompletedBar{
				Instrument: "BTCUSDT",
				Period:     "5m",
				Candle:     Candle{Close: float64(100 + i)},
			})
		}
		assert.Equal(t, 3, cache.Len("BTCUSDT", "5m"))

		recent := cache.Recent("BTCUSDT", "5m", 2)
		require.Len(t, recent, 2)
		assert.Equal(t, 103.0, recent[0].Close)
		assert.Equal(t, 104.0, recent[1].Close)
	})

	t.Run("series are isolated per instrument and period", func(t *testing.T) {
		cache := NewCandleCache(10)
		cache.Append(CompletedBar{Instrument: "BTCUSDT", Period: "5m", Candle: Candle{Close: 1}})
		cache.Append(CompletedBar{Instrument: "BTCUSDT", Period: "1h", Candle: Candle{Close: 2}})
		cache.Append(CompletedBar{Instrument: "ETHUSDT", Period: "5m", Candle: Candle{Close: 3}})

		assert.Equal(t, 1, cache.Len("BTCUSDT", "5m"))
		assert.Equal(t, 1, cache.Len("BTCUSDT", "1h"))
		assert.Empty(t, cache.Recent("ETHUSDT", "1h", 0))
	})

	t.Run("period spelling is normalized", func(t *testing.T) {
		cache := NewCandleCache(10)
		cache.Append(CompletedBar{Instrument: "BTCUSDT", Period: "05m", Candle: Candle{Close: 1}})
		assert.Equal(t, 1, cache.Len("BTCUSDT", "5m"))
	})

	t.Run("recent returns a copy", func(t *testing.T) {
		cache := NewCandleCache(10)
		cache.Append(CompletedBar{Instrument: "BTCUSDT", Period: "5m", Candle: Candle{Close: 1}})
		out := cache.Recent("BTCUSDT", "5m", 0)
		out[0].Close = 999
		assert.Equal(t, 1.0, cache.Recent("BTCUSDT", "5m", 0)[0].Close)
	})
}
