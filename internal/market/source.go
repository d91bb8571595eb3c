package market

import "context"

// TickEvent is one trade print from the market data feed. Timestamps are
// unix milliseconds. The stream is assumed monotonic per instrument.
type TickEvent struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Volume       float64 `json:"volume,omitempty"`
	OpenInterest float64 `json:"open_interest,omitempty"`
	EventTime    int64   `json:"event_time"`
	TradeTime    int64   `json:"trade_time,omitempty"`
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(err error)
}

type SourceStats struct {
	Connected       bool   `json:"connected"`
	Reconnects      int64  `json:"reconnects"`
	SubscribeErrors int64  `json:"subscribe_errors"`
	TicksTotal      int64  `json:"ticks_total"`
	LastError       string `json:"last_error,omitempty"`
	LastTickUnix    int64  `json:"last_tick_unix,omitempty"`
}

// TickSource streams live trade prices for a set of instruments.
type TickSource interface {
	SubscribeTrades(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan TickEvent, error)
	Stats() SourceStats
	Close()
}
