package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m, s int) time.Time {
	return time.Date(2026, 3, 10, h, m, s, 0, time.UTC)
}

func TestNextBoundary(t *testing.T) {
	period := 5 * time.Minute

	t.Run("mid-bucket tick", func(t *testing.T) {
		assert.Equal(t, at(10, 5, 0), NextBoundary(at(10, 2, 13), period))
	})

	t.Run("tick exactly on boundary opens the next bucket", func(t *testing.T) {
		assert.Equal(t, at(10, 10, 0), NextBoundary(at(10, 5, 0), period))
	})

	t.Run("non-positive period is identity", func(t *testing.T) {
		ts := at(10, 2, 13)
		assert.Equal(t, ts, NextBoundary(ts, 0))
	})
}

func TestBarAggregatorUpdate(t *testing.T) {
	t.Run("single bucket accumulates ohlcv", func(t *testing.T) {
		agg := NewBarAggregator([]time.Duration{5 * time.Minute})

		assert.Empty(t, agg.Update("BTCUSDT", at(10, 0, 10), 100, 1, 0))
		assert.Empty(t, agg.Update("BTCUSDT", at(10, 1, 0), 110, 2, 0))
		assert.Empty(t, agg.Update("BTCUSDT", at(10, 2, 0), 95, 1, 0))

		completed := agg.Update("BTCUSDT", at(10, 5, 0), 101, 1, 0)
		require.Len(t, completed, 1)
		bar := completed[0]
		assert.Equal(t, "BTCUSDT", bar.Instrument)
		assert.Equal(t, "5m", bar.Period)
		assert.Equal(t, at(10, 0, 0).UnixMilli(), bar.Candle.OpenTime)
		assert.Equal(t, at(10, 5, 0).UnixMilli(), bar.Candle.CloseTime)
		assert.Equal(t, 100.0, bar.Candle.Open)
		assert.Equal(t, 110.0, bar.Candle.High)
		assert.Equal(t, 95.0, bar.Candle.Low)
		assert.Equal(t, 95.0, bar.Candle.Close)
		assert.Equal(t, 4.0, bar.Candle.Volume)
		assert.Equal(t, int64(3), bar.Candle.Trades)
	})

	t.Run("boundary tick belongs to the new bucket", func(t *testing.T) {
		agg := NewBarAggregator([]time.Duration{time.Minute})
		agg.Update("ETHUSDT", at(9, 0, 30), 50, 1, 0)
		completed := agg.Update("ETHUSDT", at(9, 1, 0), 60, 1, 0)
		require.Len(t, completed, 1)
		assert.Equal(t, 50.0, completed[0].Candle.Close)

		// The 60 print seeded the next bucket, not the closed one.
		next := agg.Update("ETHUSDT", at(9, 2, 0), 61, 1, 0)
		require.Len(t, next, 1)
		assert.Equal(t, 60.0, next[0].Candle.Open)
	})

	t.Run("multiple periods close independently", func(t *testing.T) {
		agg := NewBarAggregator([]time.Duration{time.Minute, 5 * time.Minute})
		agg.Update("BTCUSDT", at(10, 0, 10), 100, 1, 0)
		completed := agg.Update("BTCUSDT", at(10, 1, 10), 101, 1, 0)
		require.Len(t, completed, 1)
		assert.Equal(t, "1m", completed[0].Period)
	})

	t.Run("idle gap produces no synthetic bars", func(t *testing.T) {
		agg := NewBarAggregator([]time.Duration{time.Minute})
		agg.Update("BTCUSDT", at(10, 0, 10), 100, 1, 0)
		completed := agg.Update("BTCUSDT", at(10, 7, 10), 105, 1, 0)
		require.Len(t, completed, 1)
		assert.Equal(t, at(10, 1, 0).UnixMilli(), completed[0].Candle.CloseTime)
	})

	t.Run("non-positive price rejected", func(t *testing.T) {
		agg := NewBarAggregator([]time.Duration{time.Minute})
		assert.Empty(t, agg.Update("BTCUSDT", at(10, 0, 10), 0, 1, 0))
		assert.Empty(t, agg.Update("BTCUSDT", at(10, 0, 11), -5, 1, 0))
	})
}

func TestBarAggregatorFlushIfDue(t *testing.T) {
	agg := NewBarAggregator([]time.Duration{5 * time.Minute})
	agg.Update("BTCUSDT", at(10, 2, 0), 100, 1, 0)

	t.Run("before expiry nothing flushes", func(t *testing.T) {
		assert.Empty(t, agg.FlushIfDue(at(10, 4, 59)))
	})

	t.Run("past expiry the bucket closes once", func(t *testing.T) {
		completed := agg.FlushIfDue(at(10, 5, 0))
		require.Len(t, completed, 1)
		assert.Equal(t, 100.0, completed[0].Candle.Close)
		assert.Empty(t, agg.FlushIfDue(at(10, 6, 0)))
	})
}

func TestBarAggregatorOnCompleted(t *testing.T) {
	agg := NewBarAggregator([]time.Duration{time.Minute})
	var got []CompletedBar
	agg.OnCompleted = func(bar CompletedBar) { got = append(got, bar) }

	agg.Update("BTCUSDT", at(10, 0, 10), 100, 1, 0)
	agg.Update("BTCUSDT", at(10, 1, 10), 101, 1, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Instrument)
}
