package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet/internal/logger"
)

// SimGateway is an in-process venue used when live routing is disabled and
// by the test suite. Market and priced orders fill immediately at the
// requested price; callbacks are delivered synchronously on the caller's
// goroutine, which exercises the same reentrancy the real venue produces.
type SimGateway struct {
	CommissionRate float64
	// FillRatio < 1 produces a partial first fill, remainder left open.
	FillRatio float64
	// FailNext forces the next SendOrder to fail, for rejection paths.
	FailNext bool

	mu      sync.Mutex
	handler EventHandler
	open    map[string]OrderRequest
	nowFn   func() time.Time
}

func NewSimGateway(commissionRate float64) *SimGateway {
	return &SimGateway{
		CommissionRate: commissionRate,
		FillRatio:      1,
		open:           make(map[string]OrderRequest),
		nowFn:          time.Now,
	}
}

func (g *SimGateway) SetHandler(h EventHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

func (g *SimGateway) SetClock(nowFn func() time.Time) {
	g.mu.Lock()
	g.nowFn = nowFn
	g.mu.Unlock()
}

func (g *SimGateway) SendOrder(_ context.Context, req OrderRequest) (string, error) {
	g.mu.Lock()
	if g.FailNext {
		g.FailNext = false
		g.mu.Unlock()
		return "", fmt.Errorf("sim gateway: transmission refused")
	}
	nativeID := "sim-" + uuid.NewString()
	g.open[nativeID] = req
	handler := g.handler
	now := g.nowFn()
	ratio := g.FillRatio
	g.mu.Unlock()

	if handler == nil {
		return nativeID, nil
	}
	handler.OnGatewayOrderUpdate(OrderUpdate{NativeID: nativeID, Status: "submitted", Timestamp: now})

	if req.Price <= 0 && req.Kind != "market" {
		// Unpriced limit orders rest until the caller re-sends on a cross.
		return nativeID, nil
	}
	volume := req.Volume
	if ratio > 0 && ratio < 1 {
		volume = req.Volume * ratio
	}
	handler.OnGatewayFill(Fill{
		NativeID:   nativeID,
		ExecID:     "exec-" + uuid.NewString(),
		Instrument: req.Instrument,
		Side:       req.Side,
		Volume:     volume,
		Price:      req.Price,
		Commission: req.Price * volume * g.CommissionRate,
		Timestamp:  now,
	})
	return nativeID, nil
}

func (g *SimGateway) CancelOrder(_ context.Context, nativeID string) bool {
	g.mu.Lock()
	_, ok := g.open[nativeID]
	if ok {
		delete(g.open, nativeID)
	}
	handler := g.handler
	now := g.nowFn()
	g.mu.Unlock()
	if !ok {
		logger.Debugf("SimGateway: cancel for unknown order %s", nativeID)
		return false
	}
	if handler != nil {
		handler.OnGatewayOrderUpdate(OrderUpdate{NativeID: nativeID, Status: "cancelled", Timestamp: now})
	}
	return true
}

// Fill lets tests push an explicit fill against a resting order.
func (g *SimGateway) Fill(nativeID string, volume, price float64) {
	g.mu.Lock()
	req, ok := g.open[nativeID]
	handler := g.handler
	now := g.nowFn()
	g.mu.Unlock()
	if !ok || handler == nil {
		return
	}
	handler.OnGatewayFill(Fill{
		NativeID:   nativeID,
		ExecID:     "exec-" + uuid.NewString(),
		Instrument: req.Instrument,
		Side:       req.Side,
		Volume:     volume,
		Price:      price,
		Commission: price * volume * g.CommissionRate,
		Timestamp:  now,
	})
}
