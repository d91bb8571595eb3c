package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Bars.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Orders.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := validateStrategies(c.Strategies, c.Risk.MaxLeverage); err != nil {
		return err
	}
	return nil
}

func (b *BarsConfig) validate() error {
	if len(b.Periods) == 0 {
		return fmt.Errorf("bars.periods requires at least one period")
	}
	for _, p := range b.Periods {
		if !IsValidInterval(p) {
			return fmt.Errorf("bars.periods contains invalid interval %q", p)
		}
	}
	return nil
}

func (o *OrdersConfig) validate() error {
	if !IsValidInterval(o.DefaultBarPeriod) {
		return fmt.Errorf("orders.default_bar_period invalid: %q", o.DefaultBarPeriod)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"risk.max_capital_usage", r.MaxCapitalUsage},
		{"risk.max_correlation", r.MaxCorrelation},
		{"risk.max_sector_exposure", r.MaxSectorExposure},
		{"risk.portfolio_stop_loss", r.PortfolioStopLoss},
		{"risk.daily_loss_limit", r.DailyLossLimit},
	}
	for _, c := range checks {
		if c.value <= 0 || c.value > 1 {
			return fmt.Errorf("%s must be in (0, 1]", c.name)
		}
	}
	if r.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be >= 1")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" && src.Proxy.WSURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url or ws_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func validateStrategies(strategies []StrategyConfig, maxLeverage float64) error {
	seen := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("strategies entries require an id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate strategy id: %s", s.ID)
		}
		seen[s.ID] = true
		if s.InitialCapital <= 0 {
			return fmt.Errorf("strategy %s: initial_capital must be > 0", s.ID)
		}
		if s.Leverage <= 0 {
			return fmt.Errorf("strategy %s: leverage must be > 0", s.ID)
		}
		if maxLeverage > 0 && s.Leverage > maxLeverage {
			return fmt.Errorf("strategy %s: leverage %.0f exceeds risk.max_leverage %.0f", s.ID, s.Leverage, maxLeverage)
		}
		if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
			return fmt.Errorf("strategy %s: confidence_threshold must be in [0, 1]", s.ID)
		}
		if !IsValidInterval(s.DecisionInterval) {
			return fmt.Errorf("strategy %s: invalid decision_interval %q", s.ID, s.DecisionInterval)
		}
		if len(s.Instruments) == 0 {
			return fmt.Errorf("strategy %s: instruments cannot be empty", s.ID)
		}
	}
	return nil
}

// IsValidInterval checks the short interval form: digits followed by one
// of s/m/h/d/w.
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 's' && suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
