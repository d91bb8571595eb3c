package app

import (
	"fmt"
	"time"

	"fleet/internal/agent"
	"fleet/internal/analysis/indicator"
	"fleet/internal/config"
	"fleet/internal/decision"
	"fleet/internal/gateway/binance"
	"fleet/internal/gateway/exchange"
	"fleet/internal/gateway/notifier"
	"fleet/internal/logger"
	"fleet/internal/market"
	"fleet/internal/order"
	"fleet/internal/refdata"
	"fleet/internal/scheduler"
	"fleet/internal/store/gormstore"
	"fleet/internal/store/journal"
	apihttp "fleet/internal/transport/http/api"
)

const (
	atrPeriod        = 14
	atrMultiplier    = 2.0
	atrCandleHistory = 100

	// simCommissionRate matches the paper-book rate so live-routed fills and
	// the simulated account stay comparable.
	simCommissionRate = 0.0003
)

func build(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	table, err := refdata.LoadTable(cfg.Refdata.TablePath)
	if err != nil {
		// Missing refdata is survivable: instruments trade under their own
		// code and sector checks see "unknown".
		logger.Warnf("refdata table unavailable (%v), using identity resolution", err)
		table = nil
	}
	a.refdata = table

	journalStore, err := journal.New(cfg.Store.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("opening trade journal failed: %w", err)
	}
	a.journal = journalStore

	snapStore, err := gormstore.New(cfg.Store.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store failed: %w", err)
	}
	a.snapshots = snapStore

	var notify notifier.TextNotifier
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	barPeriod, ok := scheduler.ParseIntervalDuration(cfg.Orders.DefaultBarPeriod)
	if !ok {
		return nil, fmt.Errorf("invalid orders.default_bar_period %q", cfg.Orders.DefaultBarPeriod)
	}
	a.gateway = exchange.NewSimGateway(simCommissionRate)
	a.orders = order.NewManager(a.gateway, order.Config{
		BarPeriod:        barPeriod,
		ExecutionLogSize: cfg.Orders.ExecutionLogSize,
	})

	periods := make([]time.Duration, 0, len(cfg.Bars.Periods))
	for _, p := range cfg.Bars.Periods {
		d, ok := scheduler.ParseIntervalDuration(p)
		if !ok {
			return nil, fmt.Errorf("invalid bars.periods entry %q", p)
		}
		periods = append(periods, d)
	}
	a.cache = market.NewCandleCache(0)
	a.aggregator = market.NewBarAggregator(periods)
	a.aggregator.OnCompleted = func(bar market.CompletedBar) {
		a.cache.Append(bar)
		logger.Debugf("bar completed %s %s close=%v vol=%v",
			bar.Instrument, bar.Period, bar.Candle.Close, bar.Candle.Volume)
	}

	trailingPeriod := scheduler.FormatInterval(barPeriod)
	trailing := func(instrument string) float64 {
		candles := a.cache.Recent(instrument, trailingPeriod, atrCandleHistory)
		return indicator.TrailingDistance(candles, atrPeriod, atrMultiplier)
	}

	a.agents = agent.NewManager(agent.ManagerParams{
		Risk: agent.RiskConfig{
			MaxCapitalUsage:   cfg.Risk.MaxCapitalUsage,
			MaxCorrelation:    cfg.Risk.MaxCorrelation,
			MaxSectorExposure: cfg.Risk.MaxSectorExposure,
			PortfolioStopLoss: cfg.Risk.PortfolioStopLoss,
			DailyLossLimit:    cfg.Risk.DailyLossLimit,
			MaxLeverage:       cfg.Risk.MaxLeverage,
		},
		Orders:           a.orders,
		Sectors:          sectorResolver(table),
		Store:            snapStore,
		Notifier:         notify,
		MonitorInterval:  time.Duration(cfg.Risk.MonitorIntervalSeconds) * time.Second,
		StatusInterval:   time.Duration(cfg.Risk.StatusIntervalSeconds) * time.Second,
		ExecutionLogSize: cfg.Orders.ExecutionLogSize,
	})

	if len(cfg.Strategies) > 0 {
		decider, err := decision.NewHTTPDecider(decision.HTTPDeciderConfig{
			APIURL:  cfg.Decision.APIURL,
			APIKey:  cfg.Decision.APIKey,
			Model:   cfg.Decision.Model,
			Timeout: time.Duration(cfg.Decision.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("building decision engine client failed: %w", err)
		}
		for _, sc := range cfg.Strategies {
			interval, ok := scheduler.ParseIntervalDuration(sc.DecisionInterval)
			if !ok {
				return nil, fmt.Errorf("strategy %s: invalid decision_interval %q", sc.ID, sc.DecisionInterval)
			}
			ag := agent.NewAgent(agent.AgentParams{
				Config: agent.StrategyConfig{
					ID:                  sc.ID,
					Name:                sc.Name,
					InitialCapital:      sc.InitialCapital,
					MaxPositionSize:     sc.MaxPositionSize,
					MaxPositions:        sc.MaxPositions,
					Leverage:            sc.Leverage,
					RiskPerTrade:        sc.RiskPerTrade,
					DecisionInterval:    interval,
					ConfidenceThreshold: sc.ConfidenceThreshold,
					Instruments:         sc.Instruments,
					Active:              sc.Active,
					ManualOverride:      sc.ManualOverride,
				},
				Decider:          decider,
				Contracts:        contractResolver(table),
				Orders:           a.orders,
				LiveTrading:      sc.LiveTrading,
				Journal:          journalStore,
				TrailingDistance: trailing,
			})
			if err := a.agents.AddStrategy(ag); err != nil {
				return nil, err
			}
		}
	}

	src := cfg.Market.ResolveActiveSource()
	source, err := binance.New(binance.Config{
		RESTBaseURL:  src.RESTBaseURL,
		ProxyEnabled: src.Proxy.Enabled,
		RESTProxyURL: src.Proxy.RESTURL,
		WSProxyURL:   src.Proxy.WSURL,
	})
	if err != nil {
		return nil, fmt.Errorf("building market source failed: %w", err)
	}
	a.source = source

	router := apihttp.NewRouter(a.agents, a.orders, journalStore, source)
	server, err := apihttp.NewServer(apihttp.ServerConfig{Addr: cfg.App.HTTPAddr, Router: router})
	if err != nil {
		return nil, err
	}
	a.httpServer = server
	return a, nil
}

// sectorResolver and contractResolver avoid handing a typed-nil *Table to
// an interface field.
func sectorResolver(t *refdata.Table) refdata.SectorResolver {
	if t == nil {
		return nil
	}
	return t
}

func contractResolver(t *refdata.Table) refdata.ContractResolver {
	if t == nil {
		return nil
	}
	return t
}
