// Package decision defines the boundary types exchanged with the external
// decision engine. Payloads are validated exactly once, here, so internal
// code never re-checks optional-field presence.
package decision

import (
	"context"
	"time"
)

type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionHold  Action = "hold"
	ActionClose Action = "close"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionClose:
		return true
	default:
		return false
	}
}

// Decision is a single validated decision for one instrument. Confidence is
// normalized to [0,1]; Quantity and Price are required for buy/sell actions.
type Decision struct {
	Instrument string  `json:"instrument"`
	Action     Action  `json:"action"`
	Quantity   float64 `json:"quantity,omitempty"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// AccountSnapshot is the account state handed to the decision engine.
type AccountSnapshot struct {
	StrategyID     string    `json:"strategy_id"`
	TotalValue     float64   `json:"total_value"`
	CashAvailable  float64   `json:"cash_available"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	RealizedPnL    float64   `json:"realized_pnl"`
	PositionCount  int       `json:"position_count"`
	PeakValue      float64   `json:"peak_value"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	InitialCapital float64   `json:"initial_capital"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PositionSnapshot is an open-position view handed to the decision engine.
type PositionSnapshot struct {
	Instrument    string    `json:"instrument"`
	Direction     string    `json:"direction"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Leverage      float64   `json:"leverage"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	EntryTime     time.Time `json:"entry_time"`
}

// Decider is the external decision engine. A failure or an empty decision
// means "no action this cycle"; the caller retries by cadence, not backoff.
type Decider interface {
	GetDecision(ctx context.Context, instrument string, account AccountSnapshot, positions []PositionSnapshot) (Decision, error)
}
