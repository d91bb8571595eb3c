package order

import (
	"time"

	"fleet/internal/logger"
)

// OnTick reacts to one market print for an instrument: trailing stops are
// ratcheted first, then resting limit and stop orders are checked for a
// crossing. An order triggers at most once per tick batch; the transmit
// path refuses a second send while one is in flight.
func (m *Manager) OnTick(instrument string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}

	m.mu.RLock()
	candidates := make([]*SmartOrder, 0)
	for _, o := range m.orders {
		if o.Instrument == instrument {
			candidates = append(candidates, o)
		}
	}
	m.mu.RUnlock()

	for _, o := range candidates {
		o.mu.Lock()
		if o.Status.Terminal() || o.awaitingParent || o.transmitting {
			o.mu.Unlock()
			continue
		}

		if o.Kind == KindStop && o.TrailingStop > 0 {
			ratchetStop(o, price)
		}

		if o.Status != StatusPending {
			o.mu.Unlock()
			continue
		}

		trigger := false
		sendPrice := o.Price
		level := o.Price
		kind, side, id := o.Kind, o.Side, o.ID
		switch o.Kind {
		case KindLimit:
			if o.Price <= 0 {
				// A zero-price limit order rests until the first print,
				// then goes out priced at that print.
				trigger = true
				sendPrice = price
			} else if o.Side == SideBuy {
				trigger = decimalLTE(price, o.Price)
			} else {
				trigger = decimalGTE(price, o.Price)
			}
		case KindStop:
			if o.Side == SideSell {
				// Protects a long: fires when the market trades down
				// through the stop.
				trigger = decimalLTE(price, o.Price)
			} else {
				trigger = decimalGTE(price, o.Price)
			}
			sendPrice = price
		}
		o.mu.Unlock()

		if !trigger {
			continue
		}
		logger.Infof("OrderManager: %s %s order %s triggered at %v (level=%v)",
			kind, side, id, price, level)
		m.transmit(o, sendPrice)
	}
}

// ratchetStop tightens a trailing stop toward the market; the level is
// never loosened. Caller holds the order lock.
func ratchetStop(o *SmartOrder, price float64) {
	switch o.Side {
	case SideSell:
		// Long protection trails upward as price rises.
		if level := price - o.TrailingStop; level > o.Price {
			o.Price = level
		}
	case SideBuy:
		// Short protection trails downward as price falls.
		if level := price + o.TrailingStop; level < o.Price {
			o.Price = level
		}
	}
}
