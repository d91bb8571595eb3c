package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet/internal/decision"
)

// newPaperAgent builds an agent with no decider, no journal and commission
// disabled, so the book arithmetic is exact.
func newPaperAgent(t *testing.T, capital, leverage float64) *Agent {
	t.Helper()
	a := NewAgent(AgentParams{
		Config: StrategyConfig{
			ID:             "s1",
			Name:           "test",
			InitialCapital: capital,
			Leverage:       leverage,
			Instruments:    []string{"BTCUSDT"},
		},
	})
	a.commissionRate = 0
	return a
}

func TestBuyReservesMarginNotNotional(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)

	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100})

	st := a.Status()
	// Margin = qty * price * leverage * 10% = 100.
	assert.InDelta(t, 99_900, st.CashAvailable, 1e-9)
	// Equity is unchanged by opening: margin moved, not spent.
	assert.InDelta(t, 100_000, st.AccountValue, 1e-9)
	require.Equal(t, 1, st.PositionCount)
	assert.Equal(t, DirectionLong, st.Positions[0].Direction)
	assert.Equal(t, 2.0, st.Positions[0].Quantity)
	assert.Equal(t, 100.0, st.Positions[0].EntryPrice)
}

func TestSellRealizesLeveragedPnL(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100})

	a.executeSell("BTCUSDT", 2, 110, "test close")

	st := a.Status()
	// P&L = (110-100) * 2 * 5 = 100 on top of the returned margin.
	assert.InDelta(t, 100_100, st.CashAvailable, 1e-9)
	assert.InDelta(t, 100_100, st.AccountValue, 1e-9)
	assert.InDelta(t, 100, st.RealizedPnL, 1e-9)
	assert.Equal(t, 0, st.PositionCount)
	assert.Equal(t, 1, st.WinCount)
	assert.Equal(t, 2, st.TotalTrades)
}

func TestSellClampsToHeldQuantity(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100})

	a.executeSell("BTCUSDT", 50, 110, "oversized")

	st := a.Status()
	assert.Equal(t, 0, st.PositionCount)
	trades := a.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, 2.0, trades[1].Quantity)
}

func TestSellWithNoPositionIsNoop(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeSell("BTCUSDT", 1, 100, "phantom")
	assert.Empty(t, a.Trades())
	assert.InDelta(t, 100_000, a.Status().CashAvailable, 1e-9)
}

func TestPartialSellKeepsRemainder(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 4, Price: 100})

	a.executeSell("BTCUSDT", 1, 120, "scale out")

	st := a.Status()
	require.Equal(t, 1, st.PositionCount)
	assert.Equal(t, 3.0, st.Positions[0].Quantity)
	// Realized on the sold slice only: (120-100)*1*5.
	assert.InDelta(t, 100, st.RealizedPnL, 1e-9)
}

func TestBuyRejectedWhenMarginExceedsCash(t *testing.T) {
	a := newPaperAgent(t, 100, 5)

	// Margin would be 10*100*5*0.1 = 500 against 100 cash.
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 10, Price: 100})

	st := a.Status()
	assert.Equal(t, 0, st.PositionCount)
	assert.InDelta(t, 100, st.CashAvailable, 1e-9)
	assert.Empty(t, a.Trades())
}

func TestBuyAveragesEntryAcrossAdds(t *testing.T) {
	a := newPaperAgent(t, 100_000, 1)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 1, Price: 100})
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 1, Price: 110})

	st := a.Status()
	require.Equal(t, 1, st.PositionCount)
	assert.Equal(t, 2.0, st.Positions[0].Quantity)
	assert.InDelta(t, 105, st.Positions[0].EntryPrice, 1e-9)
}

func TestMaxPositionSizeClampsBuys(t *testing.T) {
	a := newPaperAgent(t, 100_000, 1)
	a.cfg.MaxPositionSize = 3

	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 10, Price: 100})

	st := a.Status()
	require.Equal(t, 1, st.PositionCount)
	assert.Equal(t, 3.0, st.Positions[0].Quantity)
}

func TestOnPriceMarksToMarket(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100})

	a.OnPrice("BTCUSDT", 110)

	st := a.Status()
	assert.InDelta(t, 100, st.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 100_100, st.AccountValue, 1e-9)

	// Unknown instrument is ignored.
	a.OnPrice("ETHUSDT", 1)
	assert.InDelta(t, 100_100, a.Status().AccountValue, 1e-9)
}

func TestMaxDrawdownIsMonotone(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100})

	a.OnPrice("BTCUSDT", 90) // value 99_900, dd 0.1%
	dd1 := a.Status().MaxDrawdown
	assert.Greater(t, dd1, 0.0)

	a.OnPrice("BTCUSDT", 100) // recovery must not shrink the watermark
	assert.Equal(t, dd1, a.Status().MaxDrawdown)

	a.OnPrice("BTCUSDT", 80)
	assert.Greater(t, a.Status().MaxDrawdown, dd1)
}

func TestHoldTriggersStopLoss(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100, StopLoss: 95})

	a.executeHold("BTCUSDT", decision.Decision{Action: decision.ActionHold, Price: 94})

	st := a.Status()
	assert.Equal(t, 0, st.PositionCount)
	trades := a.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "stop-loss", trades[1].Reason)
}

func TestHoldTriggersTakeProfit(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100, TakeProfit: 120})

	a.executeHold("BTCUSDT", decision.Decision{Action: decision.ActionHold, Price: 121})

	trades := a.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "take-profit", trades[1].Reason)
	assert.InDelta(t, 210, a.Status().RealizedPnL, 1e-9)
}

func TestHoldRefreshesProtectiveLevels(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100, StopLoss: 95})

	a.executeHold("BTCUSDT", decision.Decision{Action: decision.ActionHold, Price: 105, StopLoss: 99, TakeProfit: 130})

	st := a.Status()
	require.Equal(t, 1, st.PositionCount)
	assert.Equal(t, 99.0, st.Positions[0].StopLoss)
	assert.Equal(t, 130.0, st.Positions[0].TakeProfit)
}

func TestCloseAllPositionsUsesLastPrice(t *testing.T) {
	a := newPaperAgent(t, 100_000, 5)
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 2, Price: 100})
	a.OnPrice("BTCUSDT", 110)

	a.closeAllPositions("shutdown")

	st := a.Status()
	assert.Equal(t, 0, st.PositionCount)
	assert.InDelta(t, 100_100, st.AccountValue, 1e-9)
	trades := a.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, 110.0, trades[1].Price)
}

func TestCommissionChargedBothWays(t *testing.T) {
	a := NewAgent(AgentParams{
		Config: StrategyConfig{
			ID: "s1", InitialCapital: 100_000, Leverage: 1,
			Instruments: []string{"BTCUSDT"},
		},
		CommissionRate: 0.001,
	})

	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 1, Price: 1000})
	a.executeSell("BTCUSDT", 1, 1000, "flat close")

	st := a.Status()
	// One unit at 1000 each way at 10bps: 2 total.
	assert.InDelta(t, 100_000-2, st.AccountValue, 1e-9)
	assert.InDelta(t, -1, st.RealizedPnL, 1e-9)
	assert.Equal(t, 0, st.WinCount)
	assert.Equal(t, 1, st.LossCount)
}

func TestStatusUpdatedAtUsesClock(t *testing.T) {
	a := newPaperAgent(t, 100_000, 1)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return fixed })
	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 1, Price: 100})

	assert.Equal(t, fixed, a.Status().UpdatedAt)
	require.Len(t, a.Trades(), 1)
	assert.Equal(t, fixed, a.Trades()[0].Timestamp)
}
