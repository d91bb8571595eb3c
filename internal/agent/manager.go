package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet/internal/gateway/notifier"
	"fleet/internal/logger"
	"fleet/internal/order"
	"fleet/internal/pkg/ring"
	"fleet/internal/refdata"
	"fleet/internal/scheduler"
)

const (
	defaultMonitorInterval  = 60 * time.Second
	defaultStatusInterval   = 30 * time.Second
	defaultExecutionLogSize = 200
	defaultEventLogSize     = 500
	returnHistorySize       = 64
)

// RiskConfig carries the portfolio-wide thresholds. Read-mostly; the
// config watcher may swap it wholesale via SetRiskConfig.
type RiskConfig struct {
	MaxCapitalUsage   float64 `json:"max_capital_usage"`
	MaxCorrelation    float64 `json:"max_correlation"`
	MaxSectorExposure float64 `json:"max_sector_exposure"`
	PortfolioStopLoss float64 `json:"portfolio_stop_loss"`
	DailyLossLimit    float64 `json:"daily_loss_limit"`
	MaxLeverage       float64 `json:"max_leverage"`
}

// PortfolioSnapshot is the periodic roll-up persisted by the status loop.
type PortfolioSnapshot struct {
	Timestamp      time.Time        `json:"timestamp"`
	TotalValue     float64          `json:"total_value"`
	TotalInitial   float64          `json:"total_initial"`
	TotalCash      float64          `json:"total_cash"`
	TotalPnL       float64          `json:"total_pnl"`
	DailyPnL       float64          `json:"daily_pnl"`
	CapitalUsage   float64          `json:"capital_usage"`
	TotalTrades    int              `json:"total_trades"`
	ActiveAgents   int              `json:"active_agents"`
	EmergencyState bool             `json:"emergency_state"`
	Strategies     []StrategyStatus `json:"strategies,omitempty"`
}

// PortfolioStore persists snapshots and risk events. Best-effort.
type PortfolioStore interface {
	SavePortfolioSnapshot(s PortfolioSnapshot) error
	SaveRiskEvent(e RiskEvent) error
}

// ManagerParams wires the portfolio coordinator.
type ManagerParams struct {
	Risk             RiskConfig
	Orders           *order.Manager
	Sectors          refdata.SectorResolver
	Store            PortfolioStore
	Notifier         notifier.TextNotifier
	MonitorInterval  time.Duration
	StatusInterval   time.Duration
	ExecutionLogSize int
}

// Manager owns the set of strategy agents, the portfolio risk monitor and
// the status-reporting loop. It reads agents only through their published
// snapshots.
type Manager struct {
	risk     RiskConfig
	riskMu   sync.RWMutex
	orders   *order.Manager
	sectors  refdata.SectorResolver
	store    PortfolioStore
	notify   notifier.TextNotifier
	monIntv  time.Duration
	statIntv time.Duration
	execSize int

	mu         sync.RWMutex
	agents     map[string]*Agent
	execLogs   map[string]*ring.Buffer[order.Execution]
	returnHist map[string]*ring.Buffer[float64]

	riskEvents *ring.Buffer[RiskEvent]

	dayMu         sync.Mutex
	day           time.Time
	dayStartValue float64

	emergencyMu sync.Mutex
	emergency   bool

	runCtx context.Context
	cancel context.CancelFunc
	nowFn  func() time.Time
}

func NewManager(p ManagerParams) *Manager {
	if p.MonitorInterval <= 0 {
		p.MonitorInterval = defaultMonitorInterval
	}
	if p.StatusInterval <= 0 {
		p.StatusInterval = defaultStatusInterval
	}
	if p.ExecutionLogSize <= 0 {
		p.ExecutionLogSize = defaultExecutionLogSize
	}
	m := &Manager{
		risk:       p.Risk,
		orders:     p.Orders,
		sectors:    p.Sectors,
		store:      p.Store,
		notify:     p.Notifier,
		monIntv:    p.MonitorInterval,
		statIntv:   p.StatusInterval,
		execSize:   p.ExecutionLogSize,
		agents:     make(map[string]*Agent),
		execLogs:   make(map[string]*ring.Buffer[order.Execution]),
		returnHist: make(map[string]*ring.Buffer[float64]),
		riskEvents: ring.New[RiskEvent](defaultEventLogSize),
		nowFn:      time.Now,
	}
	if p.Orders != nil {
		p.Orders.OnExecution(m.OnExecutionUpdate)
	}
	return m
}

// SetClock overrides the time source, for deterministic tests.
func (m *Manager) SetClock(nowFn func() time.Time) {
	if nowFn != nil {
		m.nowFn = nowFn
	}
}

// RiskConfig returns the current thresholds.
func (m *Manager) RiskConfig() RiskConfig {
	m.riskMu.RLock()
	defer m.riskMu.RUnlock()
	return m.risk
}

// SetRiskConfig hot-swaps the thresholds (config watcher).
func (m *Manager) SetRiskConfig(r RiskConfig) {
	m.riskMu.Lock()
	m.risk = r
	m.riskMu.Unlock()
	logger.Infof("AgentManager: risk thresholds updated: usage=%.2f sector=%.2f daily=%.2f stop=%.2f",
		r.MaxCapitalUsage, r.MaxSectorExposure, r.DailyLossLimit, r.PortfolioStopLoss)
}

// AddStrategy registers an agent. Duplicate ids are a configuration error
// and mutate nothing.
func (m *Manager) AddStrategy(a *Agent) error {
	if a == nil {
		return fmt.Errorf("nil agent")
	}
	id := a.Config().ID
	if id == "" {
		return fmt.Errorf("strategy id cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[id]; exists {
		return fmt.Errorf("strategy %s already registered", id)
	}
	m.agents[id] = a
	m.execLogs[id] = ring.New[order.Execution](m.execSize)
	m.returnHist[id] = ring.New[float64](returnHistorySize)
	logger.Infof("AgentManager: strategy %s (%s) added", id, a.Config().Name)
	return nil
}

// RemoveStrategy stops the agent first when it is still running.
func (m *Manager) RemoveStrategy(id string) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if ok {
		delete(m.agents, id)
		delete(m.execLogs, id)
		delete(m.returnHist, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown strategy %s", id)
	}
	if a.Running() {
		a.Stop()
	}
	logger.Infof("AgentManager: strategy %s removed", id)
	return nil
}

func (m *Manager) agent(id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %s", id)
	}
	return a, nil
}

// StartStrategy is idempotent: starting a running agent is a no-op.
func (m *Manager) StartStrategy(id string) error {
	a, err := m.agent(id)
	if err != nil {
		return err
	}
	if a.Running() {
		return nil
	}
	ctx := m.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return a.Start(ctx)
}

func (m *Manager) StopStrategy(id string) error {
	a, err := m.agent(id)
	if err != nil {
		return err
	}
	a.Stop()
	return nil
}

func (m *Manager) PauseStrategy(id, reason string) error {
	a, err := m.agent(id)
	if err != nil {
		return err
	}
	a.Pause(reason)
	return nil
}

func (m *Manager) ResumeStrategy(id string) error {
	a, err := m.agent(id)
	if err != nil {
		return err
	}
	a.Resume()
	return nil
}

// Run starts every active agent plus the risk-monitor and status loops,
// and blocks until the context ends.
func (m *Manager) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	defer cancel()

	m.mu.RLock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.RUnlock()

	for _, a := range agents {
		if !a.Config().Active {
			continue
		}
		if err := a.Start(runCtx); err != nil {
			logger.Warnf("AgentManager: %v", err)
		}
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		s := scheduler.NewIntervalScheduler(groupCtx, "risk-monitor", m.monIntv)
		s.Start(m.RiskCycle)
		return nil
	})
	group.Go(func() error {
		s := scheduler.NewIntervalScheduler(groupCtx, "status-update", m.statIntv)
		s.Start(m.persistSnapshot)
		return nil
	})
	if m.orders != nil {
		group.Go(func() error {
			m.orders.StartExpirySweep(groupCtx)
			return nil
		})
	}

	err := group.Wait()
	m.StopAll()
	return err
}

// StopAll gracefully stops every running agent.
func (m *Manager) StopAll() {
	m.mu.RLock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.RUnlock()
	for _, a := range agents {
		if a.Running() {
			a.Stop()
		}
	}
}

// OnExecutionUpdate appends a real fill to the per-strategy rolling log.
// It deliberately never mutates the paper book, so simulated and real
// fills stay independently observable.
func (m *Manager) OnExecutionUpdate(exec order.Execution) {
	m.mu.Lock()
	buf, ok := m.execLogs[exec.StrategyID]
	if !ok {
		buf = ring.New[order.Execution](m.execSize)
		m.execLogs[exec.StrategyID] = buf
	}
	m.mu.Unlock()
	buf.Append(exec)
	logger.Debugf("AgentManager: execution %s %s %s vol=%v price=%v",
		exec.StrategyID, exec.Side, exec.Instrument, exec.Volume, exec.Price)
}

// OnPrice fans a live price out to every agent's book.
func (m *Manager) OnPrice(instrument string, price float64) {
	m.mu.RLock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.RUnlock()
	for _, a := range agents {
		a.OnPrice(instrument, price)
	}
}

// Executions returns the most recent real fills for one strategy.
func (m *Manager) Executions(strategyID string, limit int) []order.Execution {
	m.mu.RLock()
	buf, ok := m.execLogs[strategyID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if limit <= 0 {
		return buf.Snapshot()
	}
	return buf.Last(limit)
}

// Statuses returns every agent's published snapshot, sorted by id.
func (m *Manager) Statuses() []StrategyStatus {
	m.mu.RLock()
	out := make([]StrategyStatus, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Status())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RiskEvents returns the most recent recorded breaches, oldest-first.
func (m *Manager) RiskEvents(limit int) []RiskEvent {
	if limit <= 0 {
		return m.riskEvents.Snapshot()
	}
	return m.riskEvents.Last(limit)
}

// Snapshot builds the current portfolio roll-up.
func (m *Manager) Snapshot(includeStrategies bool) PortfolioSnapshot {
	statuses := m.Statuses()
	now := m.nowFn()

	var totalValue, totalInitial, totalCash, totalPnL float64
	totalTrades, active := 0, 0
	for _, s := range statuses {
		totalValue += s.AccountValue
		totalInitial += s.InitialCapital
		totalCash += s.CashAvailable
		totalPnL += s.RealizedPnL + s.UnrealizedPnL
		totalTrades += s.TotalTrades
		if s.Running {
			active++
		}
	}
	usage := 0.0
	if totalInitial > 0 {
		usage = (totalValue - totalCash) / totalInitial
	}

	m.emergencyMu.Lock()
	emergency := m.emergency
	m.emergencyMu.Unlock()

	snap := PortfolioSnapshot{
		Timestamp:      now,
		TotalValue:     totalValue,
		TotalInitial:   totalInitial,
		TotalCash:      totalCash,
		TotalPnL:       totalPnL,
		DailyPnL:       m.dailyPnL(now, totalValue),
		CapitalUsage:   usage,
		TotalTrades:    totalTrades,
		ActiveAgents:   active,
		EmergencyState: emergency,
	}
	if includeStrategies {
		snap.Strategies = statuses
	}
	return snap
}

// dailyPnL tracks P&L against the portfolio value captured at UTC day
// start, rolling over when the day changes.
func (m *Manager) dailyPnL(now time.Time, totalValue float64) float64 {
	today := now.UTC().Truncate(24 * time.Hour)
	m.dayMu.Lock()
	defer m.dayMu.Unlock()
	if !m.day.Equal(today) {
		m.day = today
		m.dayStartValue = totalValue
	}
	return totalValue - m.dayStartValue
}

func (m *Manager) persistSnapshot() {
	snap := m.Snapshot(true)
	if m.store == nil {
		return
	}
	if err := m.store.SavePortfolioSnapshot(snap); err != nil {
		logger.Warnf("AgentManager: snapshot persist failed: %v", err)
	}
}

// EmergencyStopAll force-closes everything and halts all loops. It is
// irreversible for the run; restarting requires external intervention.
func (m *Manager) EmergencyStopAll(reason string) {
	m.emergencyMu.Lock()
	if m.emergency {
		m.emergencyMu.Unlock()
		return
	}
	m.emergency = true
	m.emergencyMu.Unlock()

	logger.Event("emergency_stop", "reason", reason)
	if m.notify != nil {
		if err := m.notify.SendText("EMERGENCY STOP: " + reason); err != nil {
			logger.Warnf("AgentManager: emergency notification failed: %v", err)
		}
	}
	if m.orders != nil {
		cancelled := m.orders.CancelAllPending("")
		logger.Infof("AgentManager: emergency cancelled %d pending orders", cancelled)
	}
	m.StopAll()
}

// Emergency reports whether the irreversible emergency stop fired.
func (m *Manager) Emergency() bool {
	m.emergencyMu.Lock()
	defer m.emergencyMu.Unlock()
	return m.emergency
}
