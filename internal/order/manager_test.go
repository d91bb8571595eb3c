package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet/internal/gateway/exchange"
)

func newTestManager(t *testing.T, commission float64) (*Manager, *exchange.SimGateway) {
	t.Helper()
	gw := exchange.NewSimGateway(commission)
	m := NewManager(gw, Config{BarPeriod: 5 * time.Minute})
	return m, gw
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestPlaceOrderValidation(t *testing.T) {
	m, _ := newTestManager(t, 0)

	_, err := m.PlaceOrder(PlaceRequest{Side: SideBuy, Kind: KindMarket, Volume: 0})
	assert.Error(t, err)

	_, err = m.PlaceOrder(PlaceRequest{Side: "flat", Kind: KindMarket, Volume: 1})
	assert.Error(t, err)

	_, err = m.PlaceOrder(PlaceRequest{Side: SideBuy, Kind: "iceberg", Volume: 1})
	assert.Error(t, err)
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	m, _ := newTestManager(t, 0.001)

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1",
		Instrument: "BTCUSDT",
		Side:       SideBuy,
		Kind:       KindMarket,
		Volume:     2,
		Price:      100,
	})
	require.NoError(t, err)

	o, ok := m.Order(id)
	require.True(t, ok)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, 2.0, o.FilledVolume)
	assert.Equal(t, 100.0, o.AvgFillPrice)
	assert.InDelta(t, 0.2, o.Commission, 1e-9)

	execs := m.Executions(0)
	require.Len(t, execs, 1)
	assert.Equal(t, id, execs[0].OrderID)
	assert.Equal(t, "s1", execs[0].StrategyID)
}

func TestTransmissionFailureRejects(t *testing.T) {
	m, gw := newTestManager(t, 0)
	gw.FailNext = true

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
	})
	require.NoError(t, err)

	o, _ := m.Order(id)
	assert.Equal(t, StatusRejected, o.Status)
}

func TestBracketChildrenCreatedAndGated(t *testing.T) {
	m, gw := newTestManager(t, 0)
	gw.FailNext = true

	// Parent is rejected, so the protective legs must never activate.
	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
		StopLoss: 90, TakeProfit: 120,
	})
	require.NoError(t, err)

	parent, _ := m.Order(id)
	require.Len(t, parent.ChildOrders, 2)

	// Deep cross through the stop level: a gated child must not trigger.
	m.OnTick("BTCUSDT", 80, time.Now())
	for _, childID := range parent.ChildOrders {
		child, ok := m.Order(childID)
		require.True(t, ok)
		assert.Equal(t, StatusPending, child.Status)
		assert.Equal(t, id, child.ParentOrder)
		assert.Equal(t, SideSell, child.Side)
	}
}

func TestBracketStopTriggersAfterParentFill(t *testing.T) {
	m, _ := newTestManager(t, 0)

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
		StopLoss: 90,
	})
	require.NoError(t, err)

	parent, _ := m.Order(id)
	require.Equal(t, StatusFilled, parent.Status)
	require.Len(t, parent.ChildOrders, 1)
	stopID := parent.ChildOrders[0]

	// Above the stop level nothing happens.
	m.OnTick("BTCUSDT", 95, time.Now())
	stop, _ := m.Order(stopID)
	assert.Equal(t, StatusPending, stop.Status)

	// Trading down through the stop fires it at the print.
	m.OnTick("BTCUSDT", 89.5, time.Now())
	stop, _ = m.Order(stopID)
	assert.Equal(t, StatusFilled, stop.Status)
	assert.Equal(t, 89.5, stop.AvgFillPrice)
}

func TestCancelCascadesToChildren(t *testing.T) {
	m, _ := newTestManager(t, 0)

	// A zero-price limit rests, so the whole bracket stays pending.
	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindLimit, Volume: 1,
		StopLoss: 90, TakeProfit: 120,
	})
	require.NoError(t, err)

	assert.True(t, m.CancelOrder(id, "strategy stop"))

	parent, _ := m.Order(id)
	assert.Equal(t, StatusCancelled, parent.Status)
	for _, childID := range parent.ChildOrders {
		child, _ := m.Order(childID)
		assert.Equal(t, StatusCancelled, child.Status)
		assert.Equal(t, "parent cancelled", child.Reason)
	}
}

func TestCancelAfterFillReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t, 0)

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
	})
	require.NoError(t, err)

	assert.False(t, m.CancelOrder(id, "too late"))
	o, _ := m.Order(id)
	assert.Equal(t, StatusFilled, o.Status)
}

func TestCancelAllPendingScopedToStrategy(t *testing.T) {
	m, _ := newTestManager(t, 0)

	for _, sid := range []string{"s1", "s1", "s2"} {
		_, err := m.PlaceOrder(PlaceRequest{
			StrategyID: sid, Instrument: "BTCUSDT",
			Side: SideBuy, Kind: KindLimit, Volume: 1,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, m.CancelAllPending("s1"))
	assert.Equal(t, 1, m.CancelAllPending(""))
	assert.Equal(t, 0, m.CancelAllPending(""))
}

func TestCancelAllPendingSweepsChildrenOfFilledParent(t *testing.T) {
	m, _ := newTestManager(t, 0)

	// Parent fills immediately, leaving an activated GTC stop child. The
	// parent cascade cannot reach it (the parent is terminal), so the
	// sweep must cancel it directly on strategy stop.
	pid, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
		StopLoss: 90,
	})
	require.NoError(t, err)

	parent, _ := m.Order(pid)
	require.Equal(t, StatusFilled, parent.Status)
	require.Len(t, parent.ChildOrders, 1)
	stopID := parent.ChildOrders[0]

	assert.Equal(t, 1, m.CancelAllPending("s1"))

	stop, _ := m.Order(stopID)
	assert.Equal(t, StatusCancelled, stop.Status)

	// A later cross through the stop level must not execute anything.
	m.OnTick("BTCUSDT", 80, time.Now())
	stop, _ = m.Order(stopID)
	assert.Equal(t, StatusCancelled, stop.Status)
	assert.Len(t, m.Executions(0), 1, "only the parent fill")
}

func TestZeroPriceLimitRestsThenTransmitsAtFirstPrint(t *testing.T) {
	m, _ := newTestManager(t, 0)

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindLimit, Volume: 1,
	})
	require.NoError(t, err)

	o, _ := m.Order(id)
	require.Equal(t, StatusPending, o.Status)

	m.OnTick("BTCUSDT", 101.5, time.Now())
	o, _ = m.Order(id)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, 101.5, o.AvgFillPrice)
}

func TestStopTriggerRespectsPriceBounds(t *testing.T) {
	m, _ := newTestManager(t, 0)

	// Sell stop resting at 90 via a bracket parent.
	pid, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
		StopLoss: 90,
	})
	require.NoError(t, err)
	parent, _ := m.Order(pid)
	stopID := parent.ChildOrders[0]

	m.OnTick("BTCUSDT", 90.01, time.Now())
	stop, _ := m.Order(stopID)
	assert.Equal(t, StatusPending, stop.Status)

	// Exactly at the level counts as a cross.
	m.OnTick("BTCUSDT", 90, time.Now())
	stop, _ = m.Order(stopID)
	assert.Equal(t, StatusFilled, stop.Status)
}

func TestPartialFillThenCompletion(t *testing.T) {
	m, gw := newTestManager(t, 0)
	gw.FillRatio = 0.5

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 4, Price: 100,
	})
	require.NoError(t, err)

	o, _ := m.Order(id)
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.Equal(t, 2.0, o.FilledVolume)

	gw.Fill(o.NativeID, 2, 110)
	o, _ = m.Order(id)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, 4.0, o.FilledVolume)
	assert.InDelta(t, 105.0, o.AvgFillPrice, 1e-9)
	assert.Len(t, m.Executions(0), 2)
}

func TestDuplicateFillIgnoredOnceFilled(t *testing.T) {
	m, gw := newTestManager(t, 0)

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
	})
	require.NoError(t, err)

	o, _ := m.Order(id)
	require.Equal(t, StatusFilled, o.Status)
	native := o.NativeID

	gw.Fill(native, 1, 100)
	o, _ = m.Order(id)
	assert.Equal(t, 1.0, o.FilledVolume)
	assert.Len(t, m.Executions(0), 1)
}

func TestExpiryAtNextBarBoundary(t *testing.T) {
	m, _ := newTestManager(t, 0)
	placed := time.Date(2026, 3, 10, 10, 2, 0, 0, time.UTC)
	m.SetClock(fixedClock(placed))

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindLimit, Volume: 1,
		TimeInForce: TIFGoodTillNextBar,
	})
	require.NoError(t, err)

	o, _ := m.Order(id)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC), o.ExpireTime)

	assert.Equal(t, 0, m.CheckExpirations(placed.Add(2*time.Minute)))
	assert.Equal(t, 1, m.CheckExpirations(placed.Add(3*time.Minute)))
	// Expiry is terminal; a second sweep finds nothing.
	assert.Equal(t, 0, m.CheckExpirations(placed.Add(4*time.Minute)))

	o, _ = m.Order(id)
	assert.Equal(t, StatusExpired, o.Status)
}

func TestExpiryNeverTouchesFilledOrders(t *testing.T) {
	m, _ := newTestManager(t, 0)
	placed := time.Date(2026, 3, 10, 10, 2, 0, 0, time.UTC)
	m.SetClock(fixedClock(placed))

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, m.CheckExpirations(placed.Add(time.Hour)))
	o, _ := m.Order(id)
	assert.Equal(t, StatusFilled, o.Status)
}

func TestGoodTillCancelNeverExpires(t *testing.T) {
	m, _ := newTestManager(t, 0)
	placed := time.Date(2026, 3, 10, 10, 2, 0, 0, time.UTC)
	m.SetClock(fixedClock(placed))

	id, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindLimit, Volume: 1,
		TimeInForce: TIFGoodTillCancel,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, m.CheckExpirations(placed.Add(1000*time.Hour)))
	o, _ := m.Order(id)
	assert.Equal(t, StatusPending, o.Status)
}

func TestCleanupKeepsLiveBrackets(t *testing.T) {
	m, _ := newTestManager(t, 0)
	placed := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	m.SetClock(fixedClock(placed))

	// Filled parent with a still-live stop child: the bracket must survive.
	pid, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
		StopLoss: 90,
	})
	require.NoError(t, err)

	// Lone terminal order that should be collected.
	lid, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "ETHUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 50,
	})
	require.NoError(t, err)

	m.SetClock(fixedClock(placed.Add(48 * time.Hour)))
	removed := m.Cleanup(24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := m.Order(pid)
	assert.True(t, ok)
	_, ok = m.Order(lid)
	assert.False(t, ok)
}

func TestExecutionCallbacksFire(t *testing.T) {
	m, _ := newTestManager(t, 0)

	var execs []Execution
	var updates []SmartOrder
	m.OnExecution(func(e Execution) { execs = append(execs, e) })
	m.OnOrderUpdate(func(o SmartOrder) { updates = append(updates, o) })

	_, err := m.PlaceOrder(PlaceRequest{
		StrategyID: "s1", Instrument: "BTCUSDT",
		Side: SideBuy, Kind: KindMarket, Volume: 1, Price: 100,
	})
	require.NoError(t, err)

	require.Len(t, execs, 1)
	assert.Equal(t, "s1", execs[0].StrategyID)
	assert.NotEmpty(t, updates)
	assert.Equal(t, StatusFilled, updates[len(updates)-1].Status)
}
