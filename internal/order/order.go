// Package order owns the smart-order graph: the order state machine,
// parent/child bracket links, tick-driven triggering and time-based expiry.
package order

import (
	"sync"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type Kind string

const (
	KindMarket Kind = "market"
	KindLimit  Kind = "limit"
	KindStop   Kind = "stop"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusSubmitted       Status = "submitted"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

// Terminal states are absorbing: no transition ever leaves them.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// FillBearing reports whether the order has registered at least one fill.
func (s Status) FillBearing() bool {
	return s == StatusPartiallyFilled || s == StatusFilled
}

type TimeInForce string

const (
	// TIFGoodTillNextBar auto-expires an unfilled order at the next bar
	// boundary. This synthetic policy stands in for real cancel-on-timeout
	// limit-order semantics.
	TIFGoodTillNextBar TimeInForce = "gtnb"
	TIFEndOfDay        TimeInForce = "day"
	TIFGoodTillCancel  TimeInForce = "gtc"
)

// SmartOrder is the order-lifecycle entity. All mutation happens under the
// per-order mutex; callers outside the package only ever see copies.
type SmartOrder struct {
	ID           string      `json:"id"`
	StrategyID   string      `json:"strategy_id"`
	Instrument   string      `json:"instrument"`
	Side         Side        `json:"side"`
	Kind         Kind        `json:"kind"`
	Volume       float64     `json:"volume"`
	Price        float64     `json:"price"`
	StopLoss     float64     `json:"stop_loss,omitempty"`
	TakeProfit   float64     `json:"take_profit,omitempty"`
	TrailingStop float64     `json:"trailing_stop,omitempty"`
	TimeInForce  TimeInForce `json:"time_in_force"`
	CreateTime   time.Time   `json:"create_time"`
	ExpireTime   time.Time   `json:"expire_time,omitempty"`
	Status       Status      `json:"status"`
	FilledVolume float64     `json:"filled_volume"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	Commission   float64     `json:"commission"`
	Reason       string      `json:"reason,omitempty"`
	Reference    string      `json:"reference,omitempty"`
	ChildOrders  []string    `json:"child_orders,omitempty"`
	ParentOrder  string      `json:"parent_order,omitempty"`
	NativeID     string      `json:"native_id,omitempty"`

	// awaitingParent gates bracket children: a child never activates before
	// its parent registers a fill.
	awaitingParent bool
	// transmitting prevents a second trigger while a gateway send for this
	// order is already in flight.
	transmitting bool

	mu sync.Mutex
}

func (o *SmartOrder) snapshot() SmartOrder {
	cp := SmartOrder{
		ID:           o.ID,
		StrategyID:   o.StrategyID,
		Instrument:   o.Instrument,
		Side:         o.Side,
		Kind:         o.Kind,
		Volume:       o.Volume,
		Price:        o.Price,
		StopLoss:     o.StopLoss,
		TakeProfit:   o.TakeProfit,
		TrailingStop: o.TrailingStop,
		TimeInForce:  o.TimeInForce,
		CreateTime:   o.CreateTime,
		ExpireTime:   o.ExpireTime,
		Status:       o.Status,
		FilledVolume: o.FilledVolume,
		AvgFillPrice: o.AvgFillPrice,
		Commission:   o.Commission,
		Reason:       o.Reason,
		Reference:    o.Reference,
		ParentOrder:  o.ParentOrder,
		NativeID:     o.NativeID,
	}
	cp.ChildOrders = append([]string(nil), o.ChildOrders...)
	return cp
}

// Execution is the immutable record of one fill event.
type Execution struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	StrategyID string    `json:"strategy_id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

// PlaceRequest carries the PlaceOrder parameters.
type PlaceRequest struct {
	StrategyID   string
	Instrument   string
	Side         Side
	Kind         Kind
	Volume       float64
	Price        float64
	StopLoss     float64
	TakeProfit   float64
	TrailingStop float64
	TimeInForce  TimeInForce
	Reason       string
	Reference    string
	// ExpireAfter overrides the TIF-derived expiry when > 0.
	ExpireAfter time.Duration
}
