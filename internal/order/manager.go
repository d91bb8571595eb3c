package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet/internal/gateway/exchange"
	"fleet/internal/logger"
	"fleet/internal/market"
	"fleet/internal/pkg/ring"
	"fleet/internal/scheduler"
)

const defaultExecutionLogSize = 1000

type Config struct {
	// BarPeriod is the boundary grid used by the GoodTillNextBar policy.
	BarPeriod        time.Duration
	CommissionRate   float64
	ExecutionLogSize int
}

func (c Config) withDefaults() Config {
	if c.BarPeriod <= 0 {
		c.BarPeriod = 5 * time.Minute
	}
	if c.ExecutionLogSize <= 0 {
		c.ExecutionLogSize = defaultExecutionLogSize
	}
	return c
}

// Manager owns every SmartOrder in flight. The order map is shared between
// the periodic expiry sweep and the asynchronous gateway callbacks, so each
// order's transitions are serialized by its own mutex; the manager mutex
// only guards the maps themselves.
type Manager struct {
	gw  exchange.Gateway
	cfg Config

	mu        sync.RWMutex
	orders    map[string]*SmartOrder
	byNative  map[string]string
	unmatched map[string][]exchange.Fill

	executions *ring.Buffer[Execution]

	cbMu     sync.RWMutex
	execCBs  []func(Execution)
	orderCBs []func(SmartOrder)

	nowFn func() time.Time
}

func NewManager(gw exchange.Gateway, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		gw:         gw,
		cfg:        cfg,
		orders:     make(map[string]*SmartOrder),
		byNative:   make(map[string]string),
		unmatched:  make(map[string][]exchange.Fill),
		executions: ring.New[Execution](cfg.ExecutionLogSize),
		nowFn:      time.Now,
	}
	if gw != nil {
		gw.SetHandler(m)
	}
	return m
}

// SetClock overrides the time source, for deterministic tests.
func (m *Manager) SetClock(nowFn func() time.Time) {
	if nowFn != nil {
		m.nowFn = nowFn
	}
}

// OnExecution registers a callback for every fill event.
func (m *Manager) OnExecution(cb func(Execution)) {
	m.cbMu.Lock()
	m.execCBs = append(m.execCBs, cb)
	m.cbMu.Unlock()
}

// OnOrderUpdate registers a callback for every order state change.
func (m *Manager) OnOrderUpdate(cb func(SmartOrder)) {
	m.cbMu.Lock()
	m.orderCBs = append(m.orderCBs, cb)
	m.cbMu.Unlock()
}

// PlaceOrder validates the request, derives the expiry, creates linked
// bracket children for stop-loss/take-profit, and transmits immediately
// when the order is marketable. A zero-price limit order rests until a
// tick crosses it.
func (m *Manager) PlaceOrder(req PlaceRequest) (string, error) {
	if req.Volume <= 0 {
		return "", fmt.Errorf("order volume must be positive, got %v", req.Volume)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return "", fmt.Errorf("unknown order side %q", req.Side)
	}
	switch req.Kind {
	case KindMarket, KindLimit, KindStop:
	default:
		return "", fmt.Errorf("unknown order kind %q", req.Kind)
	}
	if req.TimeInForce == "" {
		req.TimeInForce = TIFGoodTillNextBar
	}

	now := m.nowFn()
	o := &SmartOrder{
		ID:           uuid.NewString(),
		StrategyID:   req.StrategyID,
		Instrument:   req.Instrument,
		Side:         req.Side,
		Kind:         req.Kind,
		Volume:       req.Volume,
		Price:        req.Price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		TrailingStop: req.TrailingStop,
		TimeInForce:  req.TimeInForce,
		CreateTime:   now,
		ExpireTime:   m.computeExpiry(now, req),
		Status:       StatusPending,
		Reason:       req.Reason,
		Reference:    req.Reference,
	}

	children := m.buildChildren(o, req)

	m.mu.Lock()
	m.orders[o.ID] = o
	for _, child := range children {
		m.orders[child.ID] = child
		o.ChildOrders = append(o.ChildOrders, child.ID)
	}
	m.mu.Unlock()

	logger.Infof("OrderManager: placed %s %s %s vol=%v price=%v tif=%s children=%d strategy=%s",
		o.Kind, o.Side, o.Instrument, o.Volume, o.Price, o.TimeInForce, len(children), o.StrategyID)

	if o.Kind == KindMarket || o.Price > 0 {
		m.transmit(o, o.Price)
	}
	return o.ID, nil
}

// buildChildren creates the unsubmitted stop-loss/take-profit legs. They
// stay gated behind the parent's first fill: a protective order must never
// exist against a position that does not.
func (m *Manager) buildChildren(parent *SmartOrder, req PlaceRequest) []*SmartOrder {
	var children []*SmartOrder
	now := parent.CreateTime
	if req.StopLoss > 0 {
		children = append(children, &SmartOrder{
			ID:             uuid.NewString(),
			StrategyID:     parent.StrategyID,
			Instrument:     parent.Instrument,
			Side:           parent.Side.Opposite(),
			Kind:           KindStop,
			Volume:         parent.Volume,
			Price:          req.StopLoss,
			TrailingStop:   req.TrailingStop,
			TimeInForce:    TIFGoodTillCancel,
			CreateTime:     now,
			Status:         StatusPending,
			Reason:         "stop-loss",
			Reference:      parent.Reference,
			ParentOrder:    parent.ID,
			awaitingParent: true,
		})
	}
	if req.TakeProfit > 0 {
		children = append(children, &SmartOrder{
			ID:             uuid.NewString(),
			StrategyID:     parent.StrategyID,
			Instrument:     parent.Instrument,
			Side:           parent.Side.Opposite(),
			Kind:           KindLimit,
			Volume:         parent.Volume,
			Price:          req.TakeProfit,
			TimeInForce:    TIFGoodTillCancel,
			CreateTime:     now,
			Status:         StatusPending,
			Reason:         "take-profit",
			Reference:      parent.Reference,
			ParentOrder:    parent.ID,
			awaitingParent: true,
		})
	}
	return children
}

func (m *Manager) computeExpiry(now time.Time, req PlaceRequest) time.Time {
	if req.ExpireAfter > 0 {
		return now.Add(req.ExpireAfter)
	}
	switch req.TimeInForce {
	case TIFEndOfDay:
		return market.NextBoundary(now, 24*time.Hour)
	case TIFGoodTillCancel:
		return time.Time{}
	default:
		return market.NextBoundary(now, m.cfg.BarPeriod)
	}
}

// transmit sends one order to the gateway. A transmission failure marks the
// order Rejected; the owning strategy decides whether to re-place.
func (m *Manager) transmit(o *SmartOrder, price float64) {
	o.mu.Lock()
	if o.Status != StatusPending || o.transmitting {
		o.mu.Unlock()
		return
	}
	o.transmitting = true
	o.mu.Unlock()

	req := exchange.OrderRequest{
		Instrument: o.Instrument,
		Side:       string(o.Side),
		Kind:       string(o.Kind),
		Volume:     o.Volume,
		Price:      price,
		Reference:  o.ID,
	}
	if o.Kind == KindMarket {
		req.Price = price
	}

	nativeID, err := m.gw.SendOrder(context.Background(), req)
	if err != nil {
		o.mu.Lock()
		o.transmitting = false
		if !o.Status.Terminal() {
			o.Status = StatusRejected
			o.Reason = err.Error()
		}
		snap := o.snapshot()
		o.mu.Unlock()
		logger.Warnf("OrderManager: transmission failed for %s: %v", o.ID, err)
		m.notifyOrder(snap)
		return
	}

	m.mu.Lock()
	m.byNative[nativeID] = o.ID
	pending := m.unmatched[nativeID]
	delete(m.unmatched, nativeID)
	m.mu.Unlock()

	o.mu.Lock()
	o.transmitting = false
	o.NativeID = nativeID
	if o.Status == StatusPending {
		o.Status = StatusSubmitted
	}
	snap := o.snapshot()
	o.mu.Unlock()
	m.notifyOrder(snap)

	// Replay fills that raced ahead of the native-id registration.
	for _, f := range pending {
		m.applyFill(o, f)
	}
}

// CancelOrder cancels a live order and, recursively, its still-pending
// children. Returns false when the order is unknown or already terminal.
func (m *Manager) CancelOrder(orderID, reason string) bool {
	o := m.lookup(orderID)
	if o == nil {
		return false
	}

	o.mu.Lock()
	if o.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	nativeID := o.NativeID
	o.Status = StatusCancelled
	if reason != "" {
		o.Reason = reason
	}
	children := append([]string(nil), o.ChildOrders...)
	snap := o.snapshot()
	o.mu.Unlock()

	if nativeID != "" {
		if ok := m.gw.CancelOrder(context.Background(), nativeID); !ok {
			logger.Warnf("OrderManager: gateway declined cancel for %s (native=%s)", orderID, nativeID)
		}
	}
	logger.Event("order_cancelled", "order_id", orderID, "strategy_id", snap.StrategyID, "reason", reason)
	m.notifyOrder(snap)

	for _, childID := range children {
		m.CancelOrder(childID, "parent cancelled")
	}
	return true
}

// CancelAllPending cancels every non-terminal order, optionally scoped to
// one strategy. Returns the number of orders cancelled.
func (m *Manager) CancelAllPending(strategyID string) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.orders))
	for id, o := range m.orders {
		o.mu.Lock()
		match := !o.Status.Terminal() && (strategyID == "" || o.StrategyID == strategyID)
		parentID := o.ParentOrder
		o.mu.Unlock()
		if !match {
			continue
		}
		// Children under a live parent are reached by the parent cascade.
		// Children whose parent is already terminal (filled, cancelled)
		// must be swept directly or they outlive the strategy.
		if parentID != "" {
			if p := m.orders[parentID]; p != nil {
				p.mu.Lock()
				parentLive := !p.Status.Terminal()
				p.mu.Unlock()
				if parentLive {
					continue
				}
			}
		}
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range ids {
		if m.CancelOrder(id, "cancel all pending") {
			count++
		}
	}
	return count
}

// CheckExpirations sweeps pending orders past their expiry. Expiry is
// terminal and never touches an order that already carries a fill.
func (m *Manager) CheckExpirations(now time.Time) int {
	m.mu.RLock()
	candidates := make([]*SmartOrder, 0)
	for _, o := range m.orders {
		candidates = append(candidates, o)
	}
	m.mu.RUnlock()

	expired := 0
	for _, o := range candidates {
		o.mu.Lock()
		due := o.Status == StatusPending && !o.transmitting &&
			!o.ExpireTime.IsZero() && !now.Before(o.ExpireTime)
		if !due {
			o.mu.Unlock()
			continue
		}
		o.Status = StatusExpired
		snap := o.snapshot()
		o.mu.Unlock()
		expired++
		logger.Event("order_expired", "order_id", snap.ID, "strategy_id", snap.StrategyID,
			"instrument", snap.Instrument, "expire_time", snap.ExpireTime.Format(time.RFC3339))
		m.notifyOrder(snap)
	}
	return expired
}

// StartExpirySweep runs the expiry check once per second until ctx ends.
func (m *Manager) StartExpirySweep(ctx context.Context) {
	s := scheduler.NewIntervalScheduler(ctx, "order-expiry", time.Second)
	s.Start(func() {
		m.CheckExpirations(m.nowFn())
	})
}

// Cleanup drops terminal orders whose whole bracket (parent and children)
// is terminal and older than the retention window.
func (m *Manager) Cleanup(olderThan time.Duration) int {
	cutoff := m.nowFn().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, o := range m.orders {
		o.mu.Lock()
		ok := o.Status.Terminal() && o.CreateTime.Before(cutoff)
		linked := append([]string(nil), o.ChildOrders...)
		if o.ParentOrder != "" {
			linked = append(linked, o.ParentOrder)
		}
		nativeID := o.NativeID
		o.mu.Unlock()
		if !ok {
			continue
		}
		for _, other := range linked {
			rel, exists := m.orders[other]
			if !exists {
				continue
			}
			rel.mu.Lock()
			if !rel.Status.Terminal() {
				ok = false
			}
			rel.mu.Unlock()
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}
		delete(m.orders, id)
		if nativeID != "" {
			delete(m.byNative, nativeID)
		}
		removed++
	}
	return removed
}

// Order returns a copy of one order.
func (m *Manager) Order(orderID string) (SmartOrder, bool) {
	o := m.lookup(orderID)
	if o == nil {
		return SmartOrder{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot(), true
}

// Orders returns copies of every order, optionally scoped to one strategy.
func (m *Manager) Orders(strategyID string) []SmartOrder {
	m.mu.RLock()
	all := make([]*SmartOrder, 0, len(m.orders))
	for _, o := range m.orders {
		all = append(all, o)
	}
	m.mu.RUnlock()

	out := make([]SmartOrder, 0, len(all))
	for _, o := range all {
		o.mu.Lock()
		if strategyID == "" || o.StrategyID == strategyID {
			out = append(out, o.snapshot())
		}
		o.mu.Unlock()
	}
	return out
}

// Executions returns the most recent fills, oldest-first.
func (m *Manager) Executions(limit int) []Execution {
	if limit <= 0 {
		return m.executions.Snapshot()
	}
	return m.executions.Last(limit)
}

func (m *Manager) lookup(orderID string) *SmartOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[orderID]
}

func (m *Manager) lookupNative(nativeID string) *SmartOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byNative[nativeID]
	if !ok {
		return nil
	}
	return m.orders[id]
}

// OnGatewayOrderUpdate reconciles a venue status push onto the owning order.
func (m *Manager) OnGatewayOrderUpdate(u exchange.OrderUpdate) {
	o := m.lookupNative(u.NativeID)
	if o == nil {
		logger.Debugf("OrderManager: update for unknown native order %s (%s)", u.NativeID, u.Status)
		return
	}

	o.mu.Lock()
	changed := false
	switch u.Status {
	case "submitted":
		if o.Status == StatusPending {
			o.Status = StatusSubmitted
			changed = true
		}
	case "cancelled":
		if !o.Status.Terminal() {
			o.Status = StatusCancelled
			if u.Reason != "" {
				o.Reason = u.Reason
			}
			changed = true
		}
	case "rejected":
		if !o.Status.Terminal() && !o.Status.FillBearing() {
			o.Status = StatusRejected
			if u.Reason != "" {
				o.Reason = u.Reason
			}
			changed = true
		}
	default:
		logger.Warnf("OrderManager: unknown gateway status %q for %s", u.Status, o.ID)
	}
	snap := o.snapshot()
	o.mu.Unlock()

	if changed {
		m.notifyOrder(snap)
	}
}

// OnGatewayFill reconciles a venue fill onto the owning order, advancing
// filled volume and the volume-weighted average fill price.
func (m *Manager) OnGatewayFill(f exchange.Fill) {
	o := m.lookupNative(f.NativeID)
	if o == nil {
		// The send that produced this fill may still be registering its
		// native id; park the event for replay.
		m.mu.Lock()
		m.unmatched[f.NativeID] = append(m.unmatched[f.NativeID], f)
		m.mu.Unlock()
		return
	}
	m.applyFill(o, f)
}

func (m *Manager) applyFill(o *SmartOrder, f exchange.Fill) {
	if f.Volume <= 0 {
		return
	}

	o.mu.Lock()
	if o.Status.Terminal() && !o.Status.FillBearing() {
		status := o.Status
		o.mu.Unlock()
		logger.Errorf("OrderManager: dropping fill for %s order %s (exec=%s)", status, o.ID, f.ExecID)
		return
	}
	if o.Status == StatusFilled {
		o.mu.Unlock()
		logger.Warnf("OrderManager: duplicate fill for filled order %s (exec=%s)", o.ID, f.ExecID)
		return
	}

	o.AvgFillPrice = vwap(o.AvgFillPrice, o.FilledVolume, f.Price, f.Volume)
	o.FilledVolume += f.Volume
	o.Commission += f.Commission
	firstFill := !o.Status.FillBearing()
	if decimalGTE(o.FilledVolume, o.Volume) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	children := append([]string(nil), o.ChildOrders...)
	snap := o.snapshot()
	o.mu.Unlock()

	execID := f.ExecID
	if execID == "" {
		execID = uuid.NewString()
	}
	exec := Execution{
		ID:         execID,
		OrderID:    snap.ID,
		StrategyID: snap.StrategyID,
		Instrument: snap.Instrument,
		Side:       snap.Side,
		Volume:     f.Volume,
		Price:      f.Price,
		Commission: f.Commission,
		Timestamp:  f.Timestamp,
	}
	m.executions.Append(exec)

	if firstFill {
		m.activateChildren(children)
	}

	logger.Infof("OrderManager: fill %s %s vol=%v price=%v filled=%v/%v status=%s",
		snap.Instrument, snap.Side, f.Volume, f.Price, snap.FilledVolume, snap.Volume, snap.Status)
	m.notifyOrder(snap)
	m.notifyExecution(exec)
}

// activateChildren releases bracket legs once their parent holds a fill.
func (m *Manager) activateChildren(ids []string) {
	for _, id := range ids {
		child := m.lookup(id)
		if child == nil {
			continue
		}
		child.mu.Lock()
		if child.awaitingParent && !child.Status.Terminal() {
			child.awaitingParent = false
			logger.Infof("OrderManager: activated %s child %s (%s @ %v)",
				child.Reason, child.ID, child.Kind, child.Price)
		}
		child.mu.Unlock()
	}
}

func (m *Manager) notifyOrder(snap SmartOrder) {
	m.cbMu.RLock()
	cbs := make([]func(SmartOrder), len(m.orderCBs))
	copy(cbs, m.orderCBs)
	m.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(snap)
	}
}

func (m *Manager) notifyExecution(exec Execution) {
	m.cbMu.RLock()
	cbs := make([]func(Execution), len(m.execCBs))
	copy(cbs, m.execCBs)
	m.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(exec)
	}
}
