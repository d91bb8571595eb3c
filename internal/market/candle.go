package market

type Candle struct {
	OpenTime     int64   `json:"open_time"`
	CloseTime    int64   `json:"close_time"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest,omitempty"`
	Trades       int64   `json:"trades"`
}

// CompletedBar is an emitted, immutable bar for one instrument and period.
type CompletedBar struct {
	Instrument string `json:"instrument"`
	Period     string `json:"period"`
	Candle     Candle `json:"candle"`
}
