// Package app wires the configuration into a running process: market feed
// into the bar aggregator and order triggers, strategy agents under the
// portfolio manager, and the HTTP control surface.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet/internal/agent"
	"fleet/internal/config"
	"fleet/internal/gateway/exchange"
	"fleet/internal/logger"
	"fleet/internal/market"
	"fleet/internal/order"
	"fleet/internal/refdata"
	"fleet/internal/scheduler"
	"fleet/internal/store/gormstore"
	"fleet/internal/store/journal"
	apihttp "fleet/internal/transport/http/api"
)

type App struct {
	cfg        *config.Config
	refdata    *refdata.Table
	journal    *journal.Store
	snapshots  *gormstore.Store
	gateway    *exchange.SimGateway
	orders     *order.Manager
	aggregator *market.BarAggregator
	cache      *market.CandleCache
	agents     *agent.Manager
	source     market.TickSource
	httpServer *apihttp.Server
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// ApplyConfig hot-applies the reloadable subset of a fresh config.
func (a *App) ApplyConfig(cfg *config.Config) {
	if a == nil || cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
	a.agents.SetRiskConfig(agent.RiskConfig{
		MaxCapitalUsage:   cfg.Risk.MaxCapitalUsage,
		MaxCorrelation:    cfg.Risk.MaxCorrelation,
		MaxSectorExposure: cfg.Risk.MaxSectorExposure,
		PortfolioStopLoss: cfg.Risk.PortfolioStopLoss,
		DailyLossLimit:    cfg.Risk.DailyLossLimit,
		MaxLeverage:       cfg.Risk.MaxLeverage,
	})
}

// Run starts every loop and blocks until ctx ends or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("api http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return a.agents.Run(ctx)
	})

	group.Go(func() error {
		return a.runMarketLoop(ctx)
	})

	group.Go(func() error {
		flushEvery := time.Duration(a.cfg.Bars.FlushIntervalSeconds) * time.Second
		s := scheduler.NewIntervalScheduler(ctx, "bar-flush", flushEvery)
		s.Start(func() {
			a.aggregator.FlushIfDue(time.Now())
		})
		return nil
	})

	group.Go(func() error {
		retention := time.Duration(a.cfg.Orders.RetentionHours) * time.Hour
		s := scheduler.NewIntervalScheduler(ctx, "order-retention", time.Hour)
		s.Start(func() {
			if n := a.orders.Cleanup(retention); n > 0 {
				logger.Infof("order retention: dropped %d settled orders", n)
			}
		})
		return nil
	})

	err := group.Wait()
	a.Close()
	return err
}

// runMarketLoop subscribes the live feed and fans ticks out to the bar
// aggregator, order triggers and agent books.
func (a *App) runMarketLoop(ctx context.Context) error {
	instruments := a.instrumentUniverse()
	if len(instruments) == 0 {
		logger.Warnf("no instruments configured, market loop idle")
		<-ctx.Done()
		return nil
	}
	stream, err := a.source.SubscribeTrades(ctx, instruments, market.SubscribeOptions{
		Buffer: 2048,
		OnConnect: func() {
			logger.Infof("market feed connected (%d instruments)", len(instruments))
		},
		OnDisconnect: func(err error) {
			logger.Warnf("market feed disconnected: %v", err)
		},
	})
	if err != nil {
		return fmt.Errorf("subscribing market feed failed: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-stream:
			if !ok {
				return nil
			}
			ts := time.UnixMilli(tick.TradeTime)
			if tick.TradeTime == 0 {
				ts = time.UnixMilli(tick.EventTime)
			}
			a.aggregator.Update(tick.Symbol, ts, tick.Price, tick.Volume, tick.OpenInterest)
			a.orders.OnTick(tick.Symbol, tick.Price, ts)
			a.agents.OnPrice(tick.Symbol, tick.Price)
		}
	}
}

// instrumentUniverse resolves every configured instrument to its tradable
// contract, deduplicated.
func (a *App) instrumentUniverse() []string {
	seen := make(map[string]bool)
	var out []string
	for _, sc := range a.cfg.Strategies {
		for _, inst := range sc.Instruments {
			contract := inst
			if a.refdata != nil {
				if resolved, err := a.refdata.Resolve(inst); err == nil {
					contract = resolved
				}
			}
			if contract == "" || seen[contract] {
				continue
			}
			seen[contract] = true
			out = append(out, contract)
		}
	}
	return out
}

// Close releases stores and the market feed. Safe to call twice.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.source != nil {
		a.source.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("closing trade journal failed: %v", err)
		}
	}
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			logger.Warnf("closing snapshot store failed: %v", err)
		}
	}
}
