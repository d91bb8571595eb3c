package agent

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"fleet/internal/logger"
)

// RiskEventType labels the portfolio rule that fired.
type RiskEventType string

const (
	RiskCapitalUsage        RiskEventType = "capital-usage-exceeded"
	RiskDailyLossLimit      RiskEventType = "daily-loss-limit"
	RiskMaxDrawdown         RiskEventType = "max-drawdown"
	RiskCorrelation         RiskEventType = "correlation-risk"
	RiskSectorConcentration RiskEventType = "sector-concentration"
	RiskLiquidity           RiskEventType = "liquidity-risk"
	RiskVolatilitySpike     RiskEventType = "volatility-spike"
	RiskPositionLimit       RiskEventType = "position-limit"
)

type RiskSeverity string

const (
	SeverityInfo     RiskSeverity = "info"
	SeverityWarning  RiskSeverity = "warning"
	SeverityCritical RiskSeverity = "critical"
)

// RiskEvent records one threshold breach and the action taken.
type RiskEvent struct {
	ID           string        `json:"id"`
	Type         RiskEventType `json:"type"`
	Severity     RiskSeverity  `json:"severity"`
	StrategyID   string        `json:"strategy_id,omitempty"`
	Description  string        `json:"description"`
	CurrentValue float64       `json:"current_value"`
	Threshold    float64       `json:"threshold"`
	ActionTaken  string        `json:"action_taken"`
	Timestamp    time.Time     `json:"timestamp"`
}

// pauseTargetRatio is the hysteresis target: once a limit is breached,
// agents are paused until the measure is back under limit*pauseTargetRatio,
// so the monitor does not oscillate around the threshold.
const pauseTargetRatio = 0.8

// minCorrelationSamples gates the pairwise check until histories are long
// enough to mean anything.
const minCorrelationSamples = 10

// RiskCycle runs the ordered portfolio rules once. Pausing rules act on
// projected figures (as if the paused agent's exposure were gone) because
// a pause only stops new risk, it does not close positions; the projection
// keeps a single cycle from pausing the whole fleet.
func (m *Manager) RiskCycle() {
	if m.Emergency() {
		return
	}
	cfg := m.RiskConfig()
	statuses := m.Statuses()
	if len(statuses) == 0 {
		return
	}
	now := m.nowFn()

	var totalValue, totalInitial, totalCash float64
	for _, s := range statuses {
		totalValue += s.AccountValue
		totalInitial += s.InitialCapital
		totalCash += s.CashAvailable
	}
	if totalInitial <= 0 {
		return
	}
	m.recordReturns(statuses)

	// Rule 1: capital usage. Pause lowest-return active agents first.
	usage := (totalValue - totalCash) / totalInitial
	if cfg.MaxCapitalUsage > 0 && usage > cfg.MaxCapitalUsage {
		m.pauseByUsage(statuses, usage, totalInitial, cfg.MaxCapitalUsage, now)
	}

	// Rule 2: daily loss. Breach is unrecoverable for the day; stop everything.
	dailyPnL := m.dailyPnL(now, totalValue)
	if cfg.DailyLossLimit > 0 && dailyPnL < -cfg.DailyLossLimit*totalInitial {
		m.recordEvent(RiskEvent{
			Type:         RiskDailyLossLimit,
			Severity:     SeverityCritical,
			Description:  fmt.Sprintf("daily loss %.2f exceeds limit %.2f%% of capital", dailyPnL, cfg.DailyLossLimit*100),
			CurrentValue: dailyPnL / totalInitial,
			Threshold:    -cfg.DailyLossLimit,
			ActionTaken:  "emergency stop",
			Timestamp:    now,
		})
		m.EmergencyStopAll(fmt.Sprintf("daily loss limit breached: %.2f", dailyPnL))
		return
	}

	// Rule 3: portfolio stop-loss against initial capital.
	if cfg.PortfolioStopLoss > 0 && totalValue < totalInitial*(1-cfg.PortfolioStopLoss) {
		loss := 1 - totalValue/totalInitial
		m.recordEvent(RiskEvent{
			Type:         RiskMaxDrawdown,
			Severity:     SeverityCritical,
			Description:  fmt.Sprintf("portfolio down %.2f%% from initial capital", loss*100),
			CurrentValue: loss,
			Threshold:    cfg.PortfolioStopLoss,
			ActionTaken:  "emergency stop",
			Timestamp:    now,
		})
		m.EmergencyStopAll(fmt.Sprintf("portfolio stop-loss breached: -%.2f%%", loss*100))
		return
	}

	// Rule 4: sector concentration by open quantity.
	if cfg.MaxSectorExposure > 0 && m.sectors != nil {
		m.checkSectorConcentration(statuses, cfg.MaxSectorExposure, now)
	}

	// Advisory only: highly correlated strategies double the same bet.
	if cfg.MaxCorrelation > 0 {
		m.checkCorrelations(cfg.MaxCorrelation, now)
	}
}

// pauseByUsage pauses active agents in ascending-return order until the
// projected usage falls to the hysteresis target.
func (m *Manager) pauseByUsage(statuses []StrategyStatus, usage, totalInitial, limit float64, now time.Time) {
	target := limit * pauseTargetRatio

	active := make([]StrategyStatus, 0, len(statuses))
	for _, s := range statuses {
		if s.Running && s.State != StatePaused && s.State != StateError {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ReturnPct < active[j].ReturnPct })

	projected := usage
	for _, s := range active {
		if projected <= target {
			break
		}
		exposure := (s.AccountValue - s.CashAvailable) / totalInitial
		if err := m.PauseStrategy(s.ID, "portfolio capital usage over limit"); err != nil {
			logger.Warnf("risk: pause %s failed: %v", s.ID, err)
			continue
		}
		projected -= exposure
		m.recordEvent(RiskEvent{
			Type:         RiskCapitalUsage,
			Severity:     SeverityWarning,
			StrategyID:   s.ID,
			Description:  fmt.Sprintf("capital usage %.2f%% over limit %.2f%%, pausing worst performer (return %.2f%%)", usage*100, limit*100, s.ReturnPct*100),
			CurrentValue: usage,
			Threshold:    limit,
			ActionTaken:  "paused " + s.ID,
			Timestamp:    now,
		})
	}
}

// checkSectorConcentration measures each sector's share of total open
// quantity and pauses the largest holders of the heaviest sector.
func (m *Manager) checkSectorConcentration(statuses []StrategyStatus, limit float64, now time.Time) {
	sectorQty := make(map[string]float64)
	holderQty := make(map[string]map[string]float64) // sector -> strategy -> qty
	var totalQty float64
	for _, s := range statuses {
		for _, p := range s.Positions {
			sector := m.sectors.Sector(p.Instrument)
			sectorQty[sector] += p.Quantity
			if holderQty[sector] == nil {
				holderQty[sector] = make(map[string]float64)
			}
			holderQty[sector][s.ID] += p.Quantity
			totalQty += p.Quantity
		}
	}
	if totalQty <= 0 {
		return
	}

	worstSector, worstQty := "", 0.0
	for sector, qty := range sectorQty {
		if qty > worstQty {
			worstSector, worstQty = sector, qty
		}
	}
	concentration := worstQty / totalQty
	if concentration <= limit {
		return
	}

	running := make(map[string]StrategyStatus, len(statuses))
	for _, s := range statuses {
		if s.Running && s.State != StatePaused && s.State != StateError {
			running[s.ID] = s
		}
	}
	type holder struct {
		id  string
		qty float64
	}
	holders := make([]holder, 0, len(holderQty[worstSector]))
	for id, qty := range holderQty[worstSector] {
		if _, ok := running[id]; ok {
			holders = append(holders, holder{id, qty})
		}
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].qty > holders[j].qty })

	target := limit * pauseTargetRatio
	projectedQty := worstQty
	for _, h := range holders {
		if projectedQty/totalQty <= target {
			break
		}
		if err := m.PauseStrategy(h.id, "sector concentration over limit: "+worstSector); err != nil {
			logger.Warnf("risk: pause %s failed: %v", h.id, err)
			continue
		}
		projectedQty -= h.qty
		m.recordEvent(RiskEvent{
			Type:         RiskSectorConcentration,
			Severity:     SeverityWarning,
			StrategyID:   h.id,
			Description:  fmt.Sprintf("sector %s holds %.2f%% of open quantity, limit %.2f%%", worstSector, concentration*100, limit*100),
			CurrentValue: concentration,
			Threshold:    limit,
			ActionTaken:  "paused " + h.id,
			Timestamp:    now,
		})
	}
}

// recordReturns appends each agent's current return to its history ring.
func (m *Manager) recordReturns(statuses []StrategyStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range statuses {
		buf, ok := m.returnHist[s.ID]
		if !ok {
			continue
		}
		buf.Append(s.ReturnPct)
	}
}

// checkCorrelations emits warning events for strategy pairs whose return
// series move together beyond the threshold. Advisory: no pause, since
// correlation alone does not imply either strategy is wrong.
func (m *Manager) checkCorrelations(limit float64, now time.Time) {
	m.mu.RLock()
	series := make(map[string][]float64, len(m.returnHist))
	for id, buf := range m.returnHist {
		if buf.Len() >= minCorrelationSamples {
			series[id] = buf.Snapshot()
		}
	}
	m.mu.RUnlock()
	if len(series) < 2 {
		return
	}

	ids := make([]string, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			corr, ok := pearson(series[ids[i]], series[ids[j]])
			if !ok || math.Abs(corr) <= limit {
				continue
			}
			m.recordEvent(RiskEvent{
				Type:         RiskCorrelation,
				Severity:     SeverityInfo,
				Description:  fmt.Sprintf("strategies %s and %s correlated at %.2f", ids[i], ids[j], corr),
				CurrentValue: corr,
				Threshold:    limit,
				ActionTaken:  "warning only",
				Timestamp:    now,
			})
		}
	}
}

// pearson computes the correlation coefficient over the overlapping tail
// of the two series. Returns ok=false when either side has no variance.
func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < minCorrelationSamples {
		return 0, false
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

// recordEvent assigns identity, appends to the rolling log, persists and
// notifies. Persistence and notification are best-effort.
func (m *Manager) recordEvent(e RiskEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.nowFn()
	}
	m.riskEvents.Append(e)
	logger.Event("risk_event",
		"type", string(e.Type),
		"severity", string(e.Severity),
		"strategy_id", e.StrategyID,
		"current", e.CurrentValue,
		"threshold", e.Threshold,
		"action", e.ActionTaken,
	)
	if m.store != nil {
		if err := m.store.SaveRiskEvent(e); err != nil {
			logger.Warnf("risk: event persist failed: %v", err)
		}
	}
	if m.notify != nil && e.Severity != SeverityInfo {
		msg := fmt.Sprintf("[%s] %s: %s (action: %s)", e.Severity, e.Type, e.Description, e.ActionTaken)
		if err := m.notify.SendText(msg); err != nil {
			logger.Warnf("risk: event notification failed: %v", err)
		}
	}
}
