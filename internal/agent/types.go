package agent

import (
	"time"
)

// State is the strategy agent's lifecycle state. Error is terminal for the
// run loop until an operator issues Start again.
type State string

const (
	StateIdle         State = "idle"
	StateThinking     State = "thinking"
	StatePlacingOrder State = "placing_order"
	StatePaused       State = "paused"
	StateError        State = "error"
)

// StrategyConfig carries the immutable parameters of one strategy. It is
// created at load time and never mutated; replacing a strategy means
// removing and re-adding it.
type StrategyConfig struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	InitialCapital      float64       `json:"initial_capital"`
	MaxPositionSize     float64       `json:"max_position_size"`
	MaxPositions        int           `json:"max_positions"`
	Leverage            float64       `json:"leverage"`
	RiskPerTrade        float64       `json:"risk_per_trade"`
	DecisionInterval    time.Duration `json:"decision_interval"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	Instruments         []string      `json:"instruments"`
	Active              bool          `json:"active"`
	ManualOverride      bool          `json:"manual_override"`
}

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Position is one strategy's open exposure in one instrument. At most one
// position exists per (strategy, instrument); quantity stays positive while
// the position exists.
type Position struct {
	Instrument    string    `json:"instrument"`
	Direction     Direction `json:"direction"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Leverage      float64   `json:"leverage"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	EntryTime     time.Time `json:"entry_time"`
}

// Trade is an immutable completed fill record in the paper book.
type Trade struct {
	ID          string    `json:"id"`
	StrategyID  string    `json:"strategy_id"`
	Instrument  string    `json:"instrument"`
	Direction   Direction `json:"direction"`
	Kind        string    `json:"kind"` // "open" or "close"
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
	Commission  float64   `json:"commission"`
	RealizedPnL float64   `json:"realized_pnl"`
	Reason      string    `json:"reason,omitempty"`
}

// StrategyStatus is the atomically-published snapshot of one agent. The
// portfolio risk monitor reads these, never the live book, so it cannot
// observe a torn update mid-mutation.
type StrategyStatus struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	State          State      `json:"state"`
	Running        bool       `json:"running"`
	InitialCapital float64    `json:"initial_capital"`
	AccountValue   float64    `json:"account_value"`
	CashAvailable  float64    `json:"cash_available"`
	RealizedPnL    float64    `json:"realized_pnl"`
	UnrealizedPnL  float64    `json:"unrealized_pnl"`
	ReturnPct      float64    `json:"return_pct"`
	PeakValue      float64    `json:"peak_value"`
	MaxDrawdown    float64    `json:"max_drawdown"`
	PositionCount  int        `json:"position_count"`
	Positions      []Position `json:"positions,omitempty"`
	TotalTrades    int        `json:"total_trades"`
	WinCount       int        `json:"win_count"`
	LossCount      int        `json:"loss_count"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
