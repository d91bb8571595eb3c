// Package exchange defines the connectivity abstraction towards the order
// routing venue. The execution core only ever talks to the Gateway
// interface, so exchange backends can be swapped without touching it.
package exchange

import (
	"context"
	"time"
)

type OrderRequest struct {
	Instrument string  // concrete tradable contract code
	Side       string  // "buy" or "sell"
	Kind       string  // "market", "limit" or "stop"
	Volume     float64 // lots
	Price      float64 // 0 for market orders
	Reference  string  // free-text tag echoed back on updates
}

// OrderUpdate is an order-status change pushed by the venue, keyed by the
// venue's native order id.
type OrderUpdate struct {
	NativeID  string
	Status    string // "submitted", "cancelled", "rejected"
	Reason    string
	Timestamp time.Time
}

// Fill is one execution pushed by the venue.
type Fill struct {
	NativeID   string
	ExecID     string
	Instrument string
	Side       string
	Volume     float64
	Price      float64
	Commission float64
	Timestamp  time.Time
}

// EventHandler receives the venue's asynchronous callbacks. Calls may arrive
// concurrently with any periodic task of the consumer.
type EventHandler interface {
	OnGatewayOrderUpdate(OrderUpdate)
	OnGatewayFill(Fill)
}

// Gateway routes orders to the venue. SendOrder returns the venue-native
// order id; later updates and fills reference that id.
type Gateway interface {
	SendOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, nativeID string) bool
	SetHandler(h EventHandler)
}
