package agent

import (
	"github.com/google/uuid"

	"fleet/internal/decision"
	"fleet/internal/logger"
	"fleet/internal/order"
)

// The paper book. Every mutation happens on the agent's own cycle
// goroutine under a.mu; nothing here races with itself.

func (a *Agent) executeDecision(contract string, d decision.Decision) {
	a.mu.Lock()
	a.state = StatePlacingOrder
	a.mu.Unlock()

	switch d.Action {
	case decision.ActionBuy:
		a.executeBuy(contract, d)
	case decision.ActionSell:
		a.executeSell(contract, d.Quantity, d.Price, "decision")
	case decision.ActionClose:
		a.closePosition(contract, d.Price, "close signal")
	case decision.ActionHold:
		a.executeHold(contract, d)
	}
	a.publishStatus()
}

func (a *Agent) executeBuy(contract string, d decision.Decision) {
	qty := d.Quantity
	if a.cfg.MaxPositionSize > 0 && qty > a.cfg.MaxPositionSize {
		qty = a.cfg.MaxPositionSize
	}

	a.mu.Lock()
	if pos, ok := a.positions[contract]; ok && pos.Direction == DirectionShort {
		a.mu.Unlock()
		logger.Warnf("strategy %s: buy against open short %s skipped", a.cfg.ID, contract)
		return
	}
	margin := qty * d.Price * a.cfg.Leverage * marginRate
	if margin > a.cash {
		a.mu.Unlock()
		logger.Warnf("strategy %s: insufficient cash for %s buy (margin=%.2f cash=%.2f)",
			a.cfg.ID, contract, margin, a.cash)
		return
	}
	commission := qty * d.Price * a.commissionRate
	now := a.nowFn()

	pos, ok := a.positions[contract]
	if !ok {
		pos = &Position{
			Instrument:   contract,
			Direction:    DirectionLong,
			Quantity:     qty,
			EntryPrice:   d.Price,
			CurrentPrice: d.Price,
			Leverage:     a.cfg.Leverage,
			StopLoss:     d.StopLoss,
			TakeProfit:   d.TakeProfit,
			EntryTime:    now,
		}
		a.positions[contract] = pos
	} else {
		// Volume-weighted average entry across old and added quantity.
		total := pos.Quantity + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + d.Price*qty) / total
		pos.Quantity = total
		pos.CurrentPrice = d.Price
		if d.StopLoss > 0 {
			pos.StopLoss = d.StopLoss
		}
		if d.TakeProfit > 0 {
			pos.TakeProfit = d.TakeProfit
		}
	}
	a.cash -= margin + commission

	trade := Trade{
		ID:         uuid.NewString(),
		StrategyID: a.cfg.ID,
		Instrument: contract,
		Direction:  DirectionLong,
		Kind:       "open",
		Quantity:   qty,
		Price:      d.Price,
		Timestamp:  now,
		Commission: commission,
	}
	a.trades = append(a.trades, trade)
	a.revalueLocked()
	a.mu.Unlock()
	a.publishStatus()

	logger.Infof("strategy %s: buy %s qty=%v price=%v margin=%.2f", a.cfg.ID, contract, qty, d.Price, margin)
	a.journalTrade(trade)
	a.routeLiveOrder(contract, order.SideBuy, qty, d)
}

// executeSell reduces or closes the long position. Selling more than held
// is clamped; there is no short-from-flat in this flow.
func (a *Agent) executeSell(contract string, qty, price float64, reason string) {
	a.mu.Lock()
	pos, ok := a.positions[contract]
	if !ok {
		a.mu.Unlock()
		logger.Debugf("strategy %s: sell %s with no open position skipped", a.cfg.ID, contract)
		return
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	if qty <= 0 {
		a.mu.Unlock()
		return
	}

	commission := qty * price * a.commissionRate
	grossPnL := (price - pos.EntryPrice) * qty * pos.Leverage
	netPnL := grossPnL - commission
	marginReturned := qty * pos.EntryPrice * pos.Leverage * marginRate

	if qty >= pos.Quantity {
		delete(a.positions, contract)
	} else {
		pos.Quantity -= qty
		pos.CurrentPrice = price
		pos.UnrealizedPnL = (price - pos.EntryPrice) * pos.Quantity * pos.Leverage
	}
	a.cash += marginReturned + netPnL
	a.realizedPnL += netPnL
	if netPnL >= 0 {
		a.winCount++
	} else {
		a.lossCount++
	}
	now := a.nowFn()

	trade := Trade{
		ID:          uuid.NewString(),
		StrategyID:  a.cfg.ID,
		Instrument:  contract,
		Direction:   DirectionLong,
		Kind:        "close",
		Quantity:    qty,
		Price:       price,
		Timestamp:   now,
		Commission:  commission,
		RealizedPnL: netPnL,
		Reason:      reason,
	}
	a.trades = append(a.trades, trade)
	a.revalueLocked()
	a.mu.Unlock()
	a.publishStatus()

	logger.Infof("strategy %s: sell %s qty=%v price=%v pnl=%.2f reason=%s",
		a.cfg.ID, contract, qty, price, netPnL, reason)
	a.journalTrade(trade)
	a.routeLiveOrder(contract, order.SideSell, qty, decision.Decision{Price: price})
}

func (a *Agent) closePosition(contract string, price float64, reason string) {
	a.mu.Lock()
	pos, ok := a.positions[contract]
	if !ok {
		a.mu.Unlock()
		return
	}
	qty := pos.Quantity
	if price <= 0 {
		price = pos.CurrentPrice
	}
	a.mu.Unlock()
	a.executeSell(contract, qty, price, reason)
}

// executeHold refreshes protective levels and checks them against the
// decision's reported price; a cross triggers an internal full close.
func (a *Agent) executeHold(contract string, d decision.Decision) {
	a.mu.Lock()
	pos, ok := a.positions[contract]
	if !ok {
		a.mu.Unlock()
		return
	}
	if d.StopLoss > 0 {
		pos.StopLoss = d.StopLoss
	}
	if d.TakeProfit > 0 {
		pos.TakeProfit = d.TakeProfit
	}
	price := d.Price
	if price > 0 {
		pos.CurrentPrice = price
		pos.UnrealizedPnL = (price - pos.EntryPrice) * pos.Quantity * pos.Leverage
	}
	stop := pos.StopLoss
	take := pos.TakeProfit
	qty := pos.Quantity
	a.revalueLocked()
	a.mu.Unlock()
	a.publishStatus()

	if price <= 0 {
		return
	}
	switch {
	case stop > 0 && price <= stop:
		logger.Event("stop_loss_triggered", "strategy_id", a.cfg.ID, "instrument", contract,
			"price", price, "stop", stop)
		a.executeSell(contract, qty, price, "stop-loss")
	case take > 0 && price >= take:
		logger.Event("take_profit_triggered", "strategy_id", a.cfg.ID, "instrument", contract,
			"price", price, "take_profit", take)
		a.executeSell(contract, qty, price, "take-profit")
	}
}

// closeAllPositions force-closes everything at the last known price.
func (a *Agent) closeAllPositions(reason string) {
	a.mu.Lock()
	open := make(map[string]float64, len(a.positions))
	qtys := make(map[string]float64, len(a.positions))
	for instrument, pos := range a.positions {
		open[instrument] = pos.CurrentPrice
		qtys[instrument] = pos.Quantity
	}
	a.mu.Unlock()

	for instrument, price := range open {
		a.executeSell(instrument, qtys[instrument], price, reason)
	}
	a.publishStatus()
}

// OnPrice marks the book to market from the live feed.
func (a *Agent) OnPrice(instrument string, price float64) {
	if price <= 0 {
		return
	}
	a.mu.Lock()
	pos, ok := a.positions[instrument]
	if ok {
		pos.CurrentPrice = price
		pos.UnrealizedPnL = (price - pos.EntryPrice) * pos.Quantity * pos.Leverage
		a.revalueLocked()
	}
	a.mu.Unlock()
	if ok {
		a.publishStatus()
	}
}

// revalueLocked recomputes equity (cash + margin on deposit + unrealized
// P&L), the running peak and the monotone max drawdown. Caller holds a.mu.
func (a *Agent) revalueLocked() {
	value := a.cash
	for _, pos := range a.positions {
		pos.UnrealizedPnL = (pos.CurrentPrice - pos.EntryPrice) * pos.Quantity * pos.Leverage
		value += pos.Quantity*pos.EntryPrice*pos.Leverage*marginRate + pos.UnrealizedPnL
	}
	if value > a.peakValue {
		a.peakValue = value
	}
	if a.peakValue > 0 {
		if dd := (a.peakValue - value) / a.peakValue; dd > a.maxDrawdown {
			a.maxDrawdown = dd
		}
	}
}

func (a *Agent) accountValueLocked() float64 {
	value := a.cash
	for _, pos := range a.positions {
		value += pos.Quantity*pos.EntryPrice*pos.Leverage*marginRate + pos.UnrealizedPnL
	}
	return value
}

func (a *Agent) accountSnapshotLocked() decision.AccountSnapshot {
	value := a.accountValueLocked()
	unrealized := 0.0
	for _, pos := range a.positions {
		unrealized += pos.UnrealizedPnL
	}
	return decision.AccountSnapshot{
		StrategyID:     a.cfg.ID,
		TotalValue:     value,
		CashAvailable:  a.cash,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    a.realizedPnL,
		PositionCount:  len(a.positions),
		PeakValue:      a.peakValue,
		MaxDrawdown:    a.maxDrawdown,
		InitialCapital: a.cfg.InitialCapital,
		UpdatedAt:      a.nowFn(),
	}
}

func (a *Agent) positionSnapshotsLocked() []decision.PositionSnapshot {
	out := make([]decision.PositionSnapshot, 0, len(a.positions))
	for _, pos := range a.positions {
		out = append(out, decision.PositionSnapshot{
			Instrument:    pos.Instrument,
			Direction:     string(pos.Direction),
			Quantity:      pos.Quantity,
			EntryPrice:    pos.EntryPrice,
			CurrentPrice:  pos.CurrentPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			Leverage:      pos.Leverage,
			StopLoss:      pos.StopLoss,
			TakeProfit:    pos.TakeProfit,
			EntryTime:     pos.EntryTime,
		})
	}
	return out
}

// publishStatus stores a fresh immutable snapshot for concurrent readers.
func (a *Agent) publishStatus() {
	a.mu.Lock()
	value := a.accountValueLocked()
	unrealized := 0.0
	positions := make([]Position, 0, len(a.positions))
	for _, pos := range a.positions {
		unrealized += pos.UnrealizedPnL
		positions = append(positions, *pos)
	}
	returnPct := 0.0
	if a.cfg.InitialCapital > 0 {
		returnPct = (value - a.cfg.InitialCapital) / a.cfg.InitialCapital
	}
	snap := StrategyStatus{
		ID:             a.cfg.ID,
		Name:           a.cfg.Name,
		State:          a.state,
		InitialCapital: a.cfg.InitialCapital,
		AccountValue:   value,
		CashAvailable:  a.cash,
		RealizedPnL:    a.realizedPnL,
		UnrealizedPnL:  unrealized,
		ReturnPct:      returnPct,
		PeakValue:      a.peakValue,
		MaxDrawdown:    a.maxDrawdown,
		PositionCount:  len(positions),
		Positions:      positions,
		TotalTrades:    len(a.trades),
		WinCount:       a.winCount,
		LossCount:      a.lossCount,
		UpdatedAt:      a.nowFn(),
	}
	a.mu.Unlock()

	a.runMu.Lock()
	snap.Running = a.running
	a.runMu.Unlock()
	a.status.Store(snap)
}

// Trades returns a copy of the trade history.
func (a *Agent) Trades() []Trade {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Trade(nil), a.trades...)
}

func (a *Agent) journalTrade(t Trade) {
	if a.journal == nil {
		return
	}
	if err := a.journal.RecordTrade(t); err != nil {
		logger.Warnf("strategy %s: trade journal write failed: %v", a.cfg.ID, err)
	}
}

// routeLiveOrder mirrors a paper-book action to the real venue when live
// trading is enabled. The paper book stays authoritative either way.
func (a *Agent) routeLiveOrder(contract string, side order.Side, qty float64, d decision.Decision) {
	if !a.liveTrading {
		return
	}
	var trail float64
	if a.trailingFn != nil {
		trail = a.trailingFn(contract)
	}
	_, err := a.orders.PlaceOrder(order.PlaceRequest{
		StrategyID:   a.cfg.ID,
		Instrument:   contract,
		Side:         side,
		Kind:         order.KindMarket,
		Volume:       qty,
		Price:        d.Price,
		StopLoss:     d.StopLoss,
		TakeProfit:   d.TakeProfit,
		TrailingStop: trail,
		TimeInForce:  order.TIFGoodTillNextBar,
		Reason:       string(side) + " decision",
		Reference:    a.cfg.ID,
	})
	if err != nil {
		logger.Warnf("strategy %s: live order for %s failed: %v", a.cfg.ID, contract, err)
	}
}
