package market

import (
	"sync"

	"fleet/internal/scheduler"
)

const defaultCacheSize = 300

type cacheKey struct {
	instrument string
	period     string
}

// canonicalPeriod normalizes "05m"-style spellings so lookups and appends
// agree on one key per period.
func canonicalPeriod(period string) string {
	if d, ok := scheduler.ParseIntervalDuration(period); ok {
		return scheduler.FormatInterval(d)
	}
	return period
}

// CandleCache keeps the most recent completed bars per (instrument,
// period), bounded per series. It feeds indicator computations that need
// rolling history without a database round-trip.
type CandleCache struct {
	mu   sync.RWMutex
	max  int
	data map[cacheKey][]Candle
}

func NewCandleCache(max int) *CandleCache {
	if max <= 0 {
		max = defaultCacheSize
	}
	return &CandleCache{max: max, data: make(map[cacheKey][]Candle)}
}

// Append stores one completed bar, evicting the oldest when the series is
// full.
func (c *CandleCache) Append(bar CompletedBar) {
	key := cacheKey{instrument: bar.Instrument, period: canonicalPeriod(bar.Period)}
	c.mu.Lock()
	series := append(c.data[key], bar.Candle)
	if len(series) > c.max {
		series = series[len(series)-c.max:]
	}
	c.data[key] = series
	c.mu.Unlock()
}

// Recent returns up to n most recent candles, oldest-first. n <= 0 returns
// the whole series.
func (c *CandleCache) Recent(instrument, period string, n int) []Candle {
	key := cacheKey{instrument: instrument, period: canonicalPeriod(period)}
	c.mu.RLock()
	defer c.mu.RUnlock()
	series := c.data[key]
	if n > 0 && len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]Candle, len(series))
	copy(out, series)
	return out
}

// Len reports the stored bar count for one series.
func (c *CandleCache) Len(instrument, period string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data[cacheKey{instrument: instrument, period: canonicalPeriod(period)}])
}
