package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet/internal/decision"
)

type stubDecider struct {
	mu        sync.Mutex
	decisions map[string]decision.Decision
	err       error
	calls     int
}

func (s *stubDecider) GetDecision(_ context.Context, instrument string, _ decision.AccountSnapshot, _ []decision.PositionSnapshot) (decision.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return decision.Decision{}, s.err
	}
	return s.decisions[instrument], nil
}

func (s *stubDecider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memJournal struct {
	mu        sync.Mutex
	trades    []Trade
	decisions []decision.Decision
}

func (j *memJournal) RecordTrade(t Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
	return nil
}

func (j *memJournal) RecordDecision(_, _ string, d decision.Decision) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.decisions = append(j.decisions, d)
	return nil
}

func newTickAgent(t *testing.T, d decision.Decider, j TradeJournal) *Agent {
	t.Helper()
	a := NewAgent(AgentParams{
		Config: StrategyConfig{
			ID:                  "s1",
			Name:                "tick test",
			InitialCapital:      100_000,
			Leverage:            1,
			DecisionInterval:    time.Minute,
			ConfidenceThreshold: 0.6,
			Instruments:         []string{"BTCUSDT"},
			Active:              true,
		},
		Decider: d,
		Journal: j,
	})
	a.commissionRate = 0
	return a
}

func TestTickExecutesConfidentDecision(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 1, Price: 100, Confidence: 0.9},
	}}
	a := newTickAgent(t, stub, nil)

	a.Tick(context.Background())

	st := a.Status()
	assert.Equal(t, StateIdle, st.State)
	require.Equal(t, 1, st.PositionCount)
	assert.Equal(t, 1, stub.callCount())
}

func TestTickDiscardsLowConfidence(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 1, Price: 100, Confidence: 0.3},
	}}
	a := newTickAgent(t, stub, nil)

	a.Tick(context.Background())

	assert.Equal(t, 0, a.Status().PositionCount)
	assert.Empty(t, a.Trades())
}

func TestTickHoldIgnoresConfidenceThreshold(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionHold, Confidence: 0.1},
	}}
	a := newTickAgent(t, stub, nil)

	// Must not error; hold with a flat book is a no-op regardless of
	// confidence.
	a.Tick(context.Background())
	assert.Equal(t, 1, stub.callCount())
}

func TestTickSkipsWhenPaused(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 1, Price: 100, Confidence: 0.9},
	}}
	a := newTickAgent(t, stub, nil)

	a.Pause("risk limit")
	a.Tick(context.Background())

	assert.Equal(t, 0, stub.callCount())
	assert.Equal(t, StatePaused, a.Status().State)

	a.Resume()
	a.Tick(context.Background())
	assert.Equal(t, 1, stub.callCount())
}

func TestTickRejectsCycleOverHardDrawdown(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 1, Price: 100, Confidence: 0.9},
	}}
	a := newTickAgent(t, stub, nil)
	a.maxDrawdown = 0.2

	a.Tick(context.Background())

	assert.Equal(t, 0, stub.callCount())
	assert.Equal(t, StateIdle, a.Status().State)
}

func TestTickRejectsCycleAtMaxPositions(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 1, Price: 100, Confidence: 0.9},
	}}
	a := newTickAgent(t, stub, nil)
	a.cfg.MaxPositions = 1
	a.executeBuy("ETHUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 1, Price: 50})

	a.Tick(context.Background())
	assert.Equal(t, 0, stub.callCount())
}

func TestTickSurvivesDeciderFailure(t *testing.T) {
	stub := &stubDecider{err: context.DeadlineExceeded}
	a := newTickAgent(t, stub, nil)

	a.Tick(context.Background())

	assert.Equal(t, StateIdle, a.Status().State)
	assert.Empty(t, a.Trades())
}

func TestTickDropsInvalidDecision(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 0, Price: 100, Confidence: 0.9},
	}}
	a := newTickAgent(t, stub, nil)

	a.Tick(context.Background())
	assert.Empty(t, a.Trades())
}

func TestManualOverrideJournalsButNeverTrades(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 1, Price: 100, Confidence: 0.9},
	}}
	j := &memJournal{}
	a := newTickAgent(t, stub, j)
	a.cfg.ManualOverride = true

	a.Tick(context.Background())

	assert.Empty(t, a.Trades())
	j.mu.Lock()
	defer j.mu.Unlock()
	assert.Len(t, j.decisions, 1)
}

func TestCyclePanicMovesAgentToError(t *testing.T) {
	a := newTickAgent(t, panicDecider{}, nil)
	a.cfg.DecisionInterval = 10 * time.Millisecond

	require.NoError(t, a.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return a.Status().State == StateError
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, a.Running())
}

type panicDecider struct{}

func (panicDecider) GetDecision(context.Context, string, decision.AccountSnapshot, []decision.PositionSnapshot) (decision.Decision, error) {
	panic("boom")
}

func TestStartStopLifecycle(t *testing.T) {
	stub := &stubDecider{decisions: map[string]decision.Decision{
		"BTCUSDT": {Action: decision.ActionHold},
	}}
	a := newTickAgent(t, stub, nil)

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Running())
	assert.Error(t, a.Start(context.Background()), "double start must fail")

	a.executeBuy("BTCUSDT", decision.Decision{Action: decision.ActionBuy, Quantity: 1, Price: 100})
	a.Stop()

	assert.False(t, a.Running())
	assert.Equal(t, 0, a.Status().PositionCount, "stop force-closes positions")
	a.Stop() // idempotent
}
