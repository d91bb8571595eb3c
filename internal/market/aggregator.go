package market

import (
	"sync"
	"time"

	"fleet/internal/logger"
	"fleet/internal/scheduler"
)

// NextBoundary returns the next period-aligned wall-clock boundary strictly
// after ts (seconds and sub-seconds zeroed by the alignment). A tick landing
// exactly on a boundary belongs to the bucket that starts there.
func NextBoundary(ts time.Time, period time.Duration) time.Time {
	if period <= 0 {
		return ts
	}
	return ts.UTC().Truncate(period).Add(period)
}

type barKey struct {
	instrument string
	period     time.Duration
}

// barState is the in-flight accumulator for one half-open bucket. It lives
// only until the bucket closes, then is emitted as a Candle and discarded.
type barState struct {
	start  time.Time
	end    time.Time
	open   float64
	high   float64
	low    float64
	close  float64
	volume float64
	oi     float64
	trades int64
}

func (b *barState) toCandle() Candle {
	return Candle{
		OpenTime:     b.start.UnixMilli(),
		CloseTime:    b.end.UnixMilli(),
		Open:         b.open,
		High:         b.high,
		Low:          b.low,
		Close:        b.close,
		Volume:       b.volume,
		OpenInterest: b.oi,
		Trades:       b.trades,
	}
}

// BarAggregator folds a per-instrument tick stream into completed OHLCV bars
// at several fixed periods. Buckets are half-open [start, end) intervals
// aligned to wall-clock boundaries; idle periods produce no synthetic bars.
type BarAggregator struct {
	periods []time.Duration

	mu     sync.Mutex
	states map[barKey]*barState

	// OnCompleted, when set, receives every emitted bar in addition to the
	// Update/FlushIfDue return values.
	OnCompleted func(CompletedBar)
}

func NewBarAggregator(periods []time.Duration) *BarAggregator {
	kept := make([]time.Duration, 0, len(periods))
	for _, p := range periods {
		if p > 0 {
			kept = append(kept, p)
		}
	}
	return &BarAggregator{
		periods: kept,
		states:  make(map[barKey]*barState),
	}
}

// Periods returns the tracked bar periods.
func (a *BarAggregator) Periods() []time.Duration {
	return append([]time.Duration(nil), a.periods...)
}

// Update feeds one tick into every tracked period and returns the bars that
// completed as a result. Non-positive prices are rejected without touching
// any bucket state.
func (a *BarAggregator) Update(instrument string, ts time.Time, price, volume, openInterest float64) []CompletedBar {
	if a == nil || instrument == "" || price <= 0 {
		return nil
	}
	ts = ts.UTC()

	a.mu.Lock()
	var completed []CompletedBar
	for _, period := range a.periods {
		key := barKey{instrument: instrument, period: period}
		st, ok := a.states[key]
		if ok && !ts.Before(st.end) {
			completed = append(completed, CompletedBar{
				Instrument: instrument,
				Period:     scheduler.FormatInterval(period),
				Candle:     st.toCandle(),
			})
			delete(a.states, key)
			ok = false
		}
		if !ok {
			end := NextBoundary(ts, period)
			a.states[key] = &barState{
				start:  end.Add(-period),
				end:    end,
				open:   price,
				high:   price,
				low:    price,
				close:  price,
				volume: volume,
				oi:     openInterest,
				trades: 1,
			}
			continue
		}
		if price > st.high {
			st.high = price
		}
		if price < st.low {
			st.low = price
		}
		st.close = price
		st.volume += volume
		if openInterest > 0 {
			st.oi = openInterest
		}
		st.trades++
	}
	a.mu.Unlock()

	a.emit(completed)
	return completed
}

// FlushIfDue force-closes every bucket whose end has passed without waiting
// for another tick. Used by periodic persistence and shutdown.
func (a *BarAggregator) FlushIfDue(now time.Time) []CompletedBar {
	if a == nil {
		return nil
	}
	now = now.UTC()

	a.mu.Lock()
	var completed []CompletedBar
	for key, st := range a.states {
		if now.Before(st.end) {
			continue
		}
		completed = append(completed, CompletedBar{
			Instrument: key.instrument,
			Period:     scheduler.FormatInterval(key.period),
			Candle:     st.toCandle(),
		})
		delete(a.states, key)
	}
	a.mu.Unlock()

	a.emit(completed)
	return completed
}

func (a *BarAggregator) emit(bars []CompletedBar) {
	if a.OnCompleted == nil {
		return
	}
	for _, bar := range bars {
		a.OnCompleted(bar)
	}
}

// Run drains a tick stream into the aggregator until the context ends.
func (a *BarAggregator) Run(stream <-chan TickEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			ts := ev.EventTime
			if ts == 0 {
				ts = ev.TradeTime
			}
			if ts == 0 {
				logger.Debugf("BarAggregator: tick without timestamp for %s, skipped", ev.Symbol)
				continue
			}
			a.Update(ev.Symbol, time.UnixMilli(ts), ev.Price, ev.Volume, ev.OpenInterest)
		}
	}
}
