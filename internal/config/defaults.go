package config

import (
	"fmt"
	"strings"
)

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultAppLogPath        = "/data/logs/fleet-live.log"
	defaultMarketName        = "binance"
	defaultMarketREST        = "https://fapi.binance.com"
	defaultBarFlushSeconds   = 5
	defaultOrderBarPeriod    = "5m"
	defaultOrderLogSize      = 1000
	defaultOrderRetention    = 24
	defaultOrderSweepSeconds = 1
	defaultRiskUsage         = 0.8
	defaultRiskCorrelation   = 0.8
	defaultRiskSector        = 0.4
	defaultRiskStopLoss      = 0.2
	defaultRiskDailyLoss     = 0.05
	defaultRiskLeverage      = 10
	defaultRiskMonitorSec    = 60
	defaultRiskStatusSec     = 30
	defaultDecisionTimeout   = 120
	defaultJournalPath       = "/data/db/fleet_journal.db"
	defaultSnapshotPath      = "/data/db/fleet_snapshots.db"
	defaultRefdataTable      = "configs/refdata.yaml"
	defaultStrategyInterval  = "5m"
	defaultStrategyLeverage  = 1
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Bars.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Orders.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Decision.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Refdata.applyDefaults(keys)
	for i := range c.Strategies {
		c.Strategies[i].applyDefaults()
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (b *BarsConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	if len(b.Periods) == 0 {
		b.Periods = []string{"1m", "5m", "1h"}
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "bars.flush_interval_seconds",
			need:  func() bool { return b.FlushIntervalSeconds <= 0 },
			apply: func() { b.FlushIntervalSeconds = defaultBarFlushSeconds },
		},
	)
}

func (o *OrdersConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("orders.default_bar_period", &o.DefaultBarPeriod, defaultOrderBarPeriod),
		fieldDefault{
			key:   "orders.execution_log_size",
			need:  func() bool { return o.ExecutionLogSize <= 0 },
			apply: func() { o.ExecutionLogSize = defaultOrderLogSize },
		},
		fieldDefault{
			key:   "orders.retention_hours",
			need:  func() bool { return o.RetentionHours <= 0 },
			apply: func() { o.RetentionHours = defaultOrderRetention },
		},
		fieldDefault{
			key:   "orders.expiry_sweep_seconds",
			need:  func() bool { return o.ExpirySweepSeconds <= 0 },
			apply: func() { o.ExpirySweepSeconds = defaultOrderSweepSeconds },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.max_capital_usage",
			need:  func() bool { return r.MaxCapitalUsage <= 0 },
			apply: func() { r.MaxCapitalUsage = defaultRiskUsage },
		},
		fieldDefault{
			key:   "risk.max_correlation",
			need:  func() bool { return r.MaxCorrelation <= 0 },
			apply: func() { r.MaxCorrelation = defaultRiskCorrelation },
		},
		fieldDefault{
			key:   "risk.max_sector_exposure",
			need:  func() bool { return r.MaxSectorExposure <= 0 },
			apply: func() { r.MaxSectorExposure = defaultRiskSector },
		},
		fieldDefault{
			key:   "risk.portfolio_stop_loss",
			need:  func() bool { return r.PortfolioStopLoss <= 0 },
			apply: func() { r.PortfolioStopLoss = defaultRiskStopLoss },
		},
		fieldDefault{
			key:   "risk.daily_loss_limit",
			need:  func() bool { return r.DailyLossLimit <= 0 },
			apply: func() { r.DailyLossLimit = defaultRiskDailyLoss },
		},
		fieldDefault{
			key:   "risk.max_leverage",
			need:  func() bool { return r.MaxLeverage <= 0 },
			apply: func() { r.MaxLeverage = defaultRiskLeverage },
		},
		fieldDefault{
			key:   "risk.monitor_interval_seconds",
			need:  func() bool { return r.MonitorIntervalSeconds <= 0 },
			apply: func() { r.MonitorIntervalSeconds = defaultRiskMonitorSec },
		},
		fieldDefault{
			key:   "risk.status_interval_seconds",
			need:  func() bool { return r.StatusIntervalSeconds <= 0 },
			apply: func() { r.StatusIntervalSeconds = defaultRiskStatusSec },
		},
	)
}

func (d *DecisionConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "decision.timeout_seconds",
			need:  func() bool { return d.TimeoutSeconds <= 0 },
			apply: func() { d.TimeoutSeconds = defaultDecisionTimeout },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
		stringFieldDefault("store.snapshot_path", &s.SnapshotPath, defaultSnapshotPath),
	)
}

func (r *RefdataConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("refdata.table_path", &r.TablePath, defaultRefdataTable),
	)
}

func (s *StrategyConfig) applyDefaults() {
	if s == nil {
		return
	}
	if strings.TrimSpace(s.DecisionInterval) == "" {
		s.DecisionInterval = defaultStrategyInterval
	}
	if s.Leverage <= 0 {
		s.Leverage = defaultStrategyLeverage
	}
	if s.ConfidenceThreshold < 0 {
		s.ConfidenceThreshold = 0
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
