// Package journal persists the trade and decision history of every
// strategy to SQLite. Writes are best-effort from the caller's point of
// view: agents log and continue when a write fails.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"fleet/internal/agent"
	"fleet/internal/decision"
)

type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// New opens (or creates) the journal database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ agent.TradeJournal = (*Store)(nil)

// RecordTrade appends one completed paper-book fill.
func (s *Store) RecordTrade(t agent.Trade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal store not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO trades
		(trade_uuid, strategy_id, instrument, direction, kind, quantity, price, commission, realized_pnl, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.StrategyID, t.Instrument, string(t.Direction), t.Kind,
		t.Quantity, t.Price, t.Commission, t.RealizedPnL, t.Reason, t.Timestamp.UnixMilli())
	return err
}

// RecordDecision appends one validated decision, payload as JSON.
func (s *Store) RecordDecision(strategyID, instrument string, d decision.Decision) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal store not initialized")
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO decisions
		(strategy_id, instrument, action, confidence, payload, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		strategyID, instrument, string(d.Action), d.Confidence, string(payload), time.Now().UnixMilli())
	return err
}

// TradeRecord is one persisted trade row.
type TradeRecord struct {
	ID          int64   `json:"id"`
	TradeUUID   string  `json:"trade_uuid"`
	StrategyID  string  `json:"strategy_id"`
	Instrument  string  `json:"instrument"`
	Direction   string  `json:"direction"`
	Kind        string  `json:"kind"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	Commission  float64 `json:"commission"`
	RealizedPnL float64 `json:"realized_pnl"`
	Reason      string  `json:"reason,omitempty"`
	Timestamp   int64   `json:"ts"`
}

// RecentTrades returns the newest trades, optionally scoped to one
// strategy, newest first.
func (s *Store) RecentTrades(strategyID string, limit int) ([]TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, trade_uuid, strategy_id, instrument, direction, kind,
		quantity, price, commission, realized_pnl, reason, ts FROM trades`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		if err := rows.Scan(&r.ID, &r.TradeUUID, &r.StrategyID, &r.Instrument, &r.Direction,
			&r.Kind, &r.Quantity, &r.Price, &r.Commission, &r.RealizedPnL, &r.Reason, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DecisionRecord is one persisted decision row; Payload is the full
// decision JSON.
type DecisionRecord struct {
	ID         int64   `json:"id"`
	StrategyID string  `json:"strategy_id"`
	Instrument string  `json:"instrument"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Payload    string  `json:"payload"`
	Timestamp  int64   `json:"ts"`
}

func (s *Store) RecentDecisions(strategyID string, limit int) ([]DecisionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, strategy_id, instrument, action, confidence, payload, ts FROM decisions`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(&r.ID, &r.StrategyID, &r.Instrument, &r.Action, &r.Confidence, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
