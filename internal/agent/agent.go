package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"fleet/internal/decision"
	"fleet/internal/logger"
	"fleet/internal/order"
	"fleet/internal/pkg/circuit"
	"fleet/internal/refdata"
	"fleet/internal/scheduler"
)

const (
	// hardDrawdownLimit is the fixed per-strategy drawdown cap; the
	// configured thresholds only ever tighten behaviour below it.
	hardDrawdownLimit = 0.15
	marginRate        = 0.1
)

// TradeJournal persists trades and decisions. Best-effort: a journal
// failure is logged and never blocks trading.
type TradeJournal interface {
	RecordTrade(t Trade) error
	RecordDecision(strategyID, instrument string, d decision.Decision) error
}

// AgentParams wires a strategy agent's collaborators. Orders may be nil;
// the paper book then remains the only execution venue.
type AgentParams struct {
	Config         StrategyConfig
	Decider        decision.Decider
	Contracts      refdata.ContractResolver
	Orders         *order.Manager
	LiveTrading    bool
	Journal        TradeJournal
	CommissionRate float64
	// TrailingDistance supplies a volatility-based trailing-stop offset for
	// live orders. Optional; zero means no trailing.
	TrailingDistance func(instrument string) float64
}

// Agent runs one strategy: a periodic decision loop against its own
// simulated account. The paper book is authoritative whether or not live
// order routing is attached, so the two can always be compared.
type Agent struct {
	cfg            StrategyConfig
	decider        decision.Decider
	contracts      refdata.ContractResolver
	orders         *order.Manager
	liveTrading    bool
	journal        TradeJournal
	breaker        *circuit.CircuitBreaker
	commissionRate float64
	trailingFn     func(instrument string) float64

	mu          sync.Mutex
	state       State
	cash        float64
	positions   map[string]*Position
	trades      []Trade
	realizedPnL float64
	peakValue   float64
	maxDrawdown float64
	winCount    int
	lossCount   int

	status atomic.Value // StrategyStatus

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	nowFn func() time.Time
}

func NewAgent(p AgentParams) *Agent {
	if p.CommissionRate <= 0 {
		p.CommissionRate = 0.0003
	}
	a := &Agent{
		cfg:            p.Config,
		decider:        p.Decider,
		contracts:      p.Contracts,
		orders:         p.Orders,
		liveTrading:    p.LiveTrading && p.Orders != nil,
		journal:        p.Journal,
		breaker:        circuit.NewCircuitBreaker("decider:"+p.Config.ID, 3, time.Minute),
		commissionRate: p.CommissionRate,
		trailingFn:     p.TrailingDistance,
		state:          StateIdle,
		cash:           p.Config.InitialCapital,
		positions:      make(map[string]*Position),
		peakValue:      p.Config.InitialCapital,
		nowFn:          time.Now,
	}
	a.publishStatus()
	return a
}

func (a *Agent) Config() StrategyConfig { return a.cfg }

// SetClock overrides the time source, for deterministic tests.
func (a *Agent) SetClock(nowFn func() time.Time) {
	if nowFn != nil {
		a.nowFn = nowFn
	}
}

// Start launches the decision loop. It also clears a terminal Error state;
// restarting after a fault is an explicit operator action.
func (a *Agent) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return fmt.Errorf("strategy %s already running", a.cfg.ID)
	}

	a.mu.Lock()
	if a.state == StateError {
		a.state = StateIdle
	}
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		s := scheduler.NewIntervalScheduler(runCtx, "strategy:"+a.cfg.ID, a.cfg.DecisionInterval)
		s.Start(func() {
			a.runCycle(runCtx)
		})
	}()
	a.runMu.Unlock()
	logger.Event("strategy_started", "strategy_id", a.cfg.ID, "name", a.cfg.Name)
	a.publishStatus()
	return nil
}

// Stop halts the loop and force-closes every open position at its last
// known price. Safe to call while a cycle is mid-iteration: the in-flight
// cycle completes, no new one starts.
func (a *Agent) Stop() {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.cancel = nil
	a.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.closeAllPositions("strategy stopped")
	if a.orders != nil {
		a.orders.CancelAllPending(a.cfg.ID)
	}

	a.mu.Lock()
	if a.state != StateError {
		a.state = StateIdle
	}
	a.mu.Unlock()
	logger.Event("strategy_stopped", "strategy_id", a.cfg.ID)
	a.publishStatus()
}

// Pause suspends decision cycles without touching positions.
func (a *Agent) Pause(reason string) {
	a.mu.Lock()
	already := a.state == StatePaused
	if !already && a.state != StateError {
		a.state = StatePaused
	}
	a.mu.Unlock()
	if !already {
		logger.Event("strategy_paused", "strategy_id", a.cfg.ID, "reason", reason)
		a.publishStatus()
	}
}

func (a *Agent) Resume() {
	a.mu.Lock()
	resumed := a.state == StatePaused
	if resumed {
		a.state = StateIdle
	}
	a.mu.Unlock()
	if resumed {
		logger.Event("strategy_resumed", "strategy_id", a.cfg.ID)
		a.publishStatus()
	}
}

func (a *Agent) Running() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.running
}

// Status returns the latest atomically-published snapshot.
func (a *Agent) Status() StrategyStatus {
	if v := a.status.Load(); v != nil {
		return v.(StrategyStatus)
	}
	return StrategyStatus{ID: a.cfg.ID, Name: a.cfg.Name, State: StateIdle}
}

// runCycle wraps one Tick with the fail-stop guard: an unhandled panic
// moves the agent to Error and halts the loop so a buggy cycle cannot keep
// mutating state.
func (a *Agent) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("strategy %s: cycle panic: %v", a.cfg.ID, r)
			debug.PrintStack()
			a.mu.Lock()
			a.state = StateError
			a.mu.Unlock()
			a.publishStatus()
			a.runMu.Lock()
			a.running = false
			cancel := a.cancel
			a.cancel = nil
			a.runMu.Unlock()
			if cancel != nil {
				cancel()
			}
			logger.Event("strategy_error", "strategy_id", a.cfg.ID, "panic", fmt.Sprint(r))
		}
	}()
	a.Tick(ctx)
}

// Tick is one decision cycle: revalue the account, apply the local risk
// gates, then fetch and execute a decision per configured instrument.
func (a *Agent) Tick(ctx context.Context) {
	a.mu.Lock()
	if a.state == StatePaused || a.state == StateError {
		a.mu.Unlock()
		return
	}
	a.state = StateThinking
	a.revalueLocked()

	if a.maxDrawdown > hardDrawdownLimit {
		logger.Warnf("strategy %s: drawdown %.2f%% over hard limit, cycle rejected",
			a.cfg.ID, a.maxDrawdown*100)
		a.state = StateIdle
		a.mu.Unlock()
		a.publishStatus()
		return
	}
	if a.cfg.MaxPositions > 0 && len(a.positions) >= a.cfg.MaxPositions {
		logger.Debugf("strategy %s: at max positions (%d), cycle rejected", a.cfg.ID, len(a.positions))
		a.state = StateIdle
		a.mu.Unlock()
		a.publishStatus()
		return
	}
	for _, pos := range a.positions {
		if a.cfg.MaxPositionSize > 0 && pos.Quantity > a.cfg.MaxPositionSize {
			logger.Warnf("strategy %s: %s position %v over size limit %v, cycle rejected",
				a.cfg.ID, pos.Instrument, pos.Quantity, a.cfg.MaxPositionSize)
			a.state = StateIdle
			a.mu.Unlock()
			a.publishStatus()
			return
		}
	}
	account := a.accountSnapshotLocked()
	openPositions := a.positionSnapshotsLocked()
	a.mu.Unlock()
	a.publishStatus()

	for _, instrument := range a.cfg.Instruments {
		if ctx.Err() != nil {
			break
		}
		a.processInstrument(ctx, instrument, account, openPositions)
	}

	a.mu.Lock()
	if a.state == StateThinking || a.state == StatePlacingOrder {
		a.state = StateIdle
	}
	a.mu.Unlock()
	a.publishStatus()
}

func (a *Agent) processInstrument(ctx context.Context, instrument string, account decision.AccountSnapshot, open []decision.PositionSnapshot) {
	contract := instrument
	if a.contracts != nil {
		resolved, err := a.contracts.Resolve(instrument)
		if err != nil {
			logger.Warnf("strategy %s: %v", a.cfg.ID, err)
			return
		}
		contract = resolved
	}

	if !a.breaker.Allow() {
		logger.Debugf("strategy %s: decider circuit open, skipping %s", a.cfg.ID, contract)
		return
	}
	d, err := a.decider.GetDecision(ctx, contract, account, open)
	if err != nil {
		a.breaker.RecordFailure()
		logger.Warnf("strategy %s: decision engine failed for %s: %v", a.cfg.ID, contract, err)
		return
	}
	a.breaker.RecordSuccess()
	if err := decision.Validate(d); err != nil {
		logger.Warnf("strategy %s: invalid decision for %s: %v", a.cfg.ID, contract, err)
		return
	}
	if d.Instrument == "" {
		d.Instrument = contract
	}

	if a.journal != nil {
		if err := a.journal.RecordDecision(a.cfg.ID, contract, d); err != nil {
			logger.Warnf("strategy %s: decision journal write failed: %v", a.cfg.ID, err)
		}
	}

	if a.cfg.ManualOverride {
		logger.Debugf("strategy %s: manual override, decision for %s discarded", a.cfg.ID, contract)
		return
	}
	if d.Action != decision.ActionHold && d.Confidence < a.cfg.ConfidenceThreshold {
		logger.Debugf("strategy %s: confidence %.2f below threshold %.2f, %s discarded",
			a.cfg.ID, d.Confidence, a.cfg.ConfidenceThreshold, d.Action)
		return
	}

	a.executeDecision(contract, d)
}
