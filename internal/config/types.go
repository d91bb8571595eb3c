package config

import "strings"

// Config is the main configuration carrier.
type Config struct {
	App        AppConfig        `toml:"app"`
	Bars       BarsConfig       `toml:"bars"`
	Market     MarketConfig     `toml:"market"`
	Orders     OrdersConfig     `toml:"orders"`
	Risk       RiskConfig       `toml:"risk"`
	Decision   DecisionConfig   `toml:"decision"`
	Store      StoreConfig      `toml:"store"`
	Notify     NotifyConfig     `toml:"notify"`
	Refdata    RefdataConfig    `toml:"refdata"`
	Strategies []StrategyConfig `toml:"strategies"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BarsConfig drives the bar aggregator.
type BarsConfig struct {
	Periods              []string `toml:"periods"`
	FlushIntervalSeconds int      `toml:"flush_interval_seconds"`
}

// OrdersConfig drives the smart order manager.
type OrdersConfig struct {
	DefaultBarPeriod   string `toml:"default_bar_period"`
	ExecutionLogSize   int    `toml:"execution_log_size"`
	RetentionHours     int    `toml:"retention_hours"`
	ExpirySweepSeconds int    `toml:"expiry_sweep_seconds"`
}

// RiskConfig carries the portfolio-wide thresholds, all as fractions of
// capital (0.8 = 80%).
type RiskConfig struct {
	MaxCapitalUsage        float64 `toml:"max_capital_usage"`
	MaxCorrelation         float64 `toml:"max_correlation"`
	MaxSectorExposure      float64 `toml:"max_sector_exposure"`
	PortfolioStopLoss      float64 `toml:"portfolio_stop_loss"`
	DailyLossLimit         float64 `toml:"daily_loss_limit"`
	MaxLeverage            float64 `toml:"max_leverage"`
	MonitorIntervalSeconds int     `toml:"monitor_interval_seconds"`
	StatusIntervalSeconds  int     `toml:"status_interval_seconds"`
}

// DecisionConfig describes the external decision engine endpoint.
type DecisionConfig struct {
	APIURL         string `toml:"api_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type StoreConfig struct {
	JournalPath  string `toml:"journal_path"`
	SnapshotPath string `toml:"snapshot_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// RefdataConfig points at the sector/contract table file.
type RefdataConfig struct {
	TablePath string `toml:"table_path"`
}

// StrategyConfig is the file-level form of one strategy; intervals are
// strings ("5m", "1h") and converted when agents are built.
type StrategyConfig struct {
	ID                  string   `toml:"id"`
	Name                string   `toml:"name"`
	InitialCapital      float64  `toml:"initial_capital"`
	MaxPositionSize     float64  `toml:"max_position_size"`
	MaxPositions        int      `toml:"max_positions"`
	Leverage            float64  `toml:"leverage"`
	RiskPerTrade        float64  `toml:"risk_per_trade"`
	DecisionInterval    string   `toml:"decision_interval"`
	ConfidenceThreshold float64  `toml:"confidence_threshold"`
	Instruments         []string `toml:"instruments"`
	Active              bool     `toml:"active"`
	ManualOverride      bool     `toml:"manual_override"`
	LiveTrading         bool     `toml:"live_trading"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
	WSURL   string `toml:"ws_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	p.WSURL = strings.TrimSpace(p.WSURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet tracks field paths explicitly set in the config files, so that
// defaults never clobber an explicit zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for one field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
