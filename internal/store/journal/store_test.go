package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet/internal/agent"
	"fleet/internal/decision"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id, strategy string, ts time.Time) agent.Trade {
	return agent.Trade{
		ID:          id,
		StrategyID:  strategy,
		Instrument:  "BTCUSDT",
		Direction:   agent.DirectionLong,
		Kind:        "open",
		Quantity:    2,
		Price:       50000,
		Commission:  30,
		RealizedPnL: 0,
		Timestamp:   ts,
	}
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestRecordAndReadTrades(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordTrade(sampleTrade("t1", "alpha", base)))
	require.NoError(t, s.RecordTrade(sampleTrade("t2", "alpha", base.Add(time.Minute))))
	require.NoError(t, s.RecordTrade(sampleTrade("t3", "beta", base.Add(2*time.Minute))))

	t.Run("newest first", func(t *testing.T) {
		got, err := s.RecentTrades("", 10)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "t3", got[0].TradeUUID)
		assert.Equal(t, "t1", got[2].TradeUUID)
		assert.Equal(t, "long", got[0].Direction)
		assert.Equal(t, 50000.0, got[0].Price)
	})

	t.Run("scoped to one strategy", func(t *testing.T) {
		got, err := s.RecentTrades("alpha", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, r := range got {
			assert.Equal(t, "alpha", r.StrategyID)
		}
	})

	t.Run("limit respected", func(t *testing.T) {
		got, err := s.RecentTrades("", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "t3", got[0].TradeUUID)
	})
}

func TestRecordAndReadDecisions(t *testing.T) {
	s := newTestStore(t)

	d := decision.Decision{
		Action:     decision.ActionBuy,
		Quantity:   2,
		Price:      50000,
		Confidence: 0.8,
	}
	require.NoError(t, s.RecordDecision("alpha", "BTCUSDT", d))
	require.NoError(t, s.RecordDecision("beta", "ETHUSDT", decision.Decision{Action: decision.ActionHold}))

	got, err := s.RecentDecisions("alpha", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "buy", got[0].Action)
	assert.Equal(t, 0.8, got[0].Confidence)
	assert.Contains(t, got[0].Payload, `"buy"`)
}

func TestClosedStoreErrors(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
	assert.Error(t, s.RecordTrade(agent.Trade{}))
	_, err := s.RecentTrades("", 10)
	assert.Error(t, err)
}
