// Package gormstore persists portfolio snapshots and risk events using
// Gorm + SQLite. It backs the HTTP surface's historical queries.
package gormstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"fleet/internal/agent"
)

type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: snapshot path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&portfolioSnapshotModel{}, &riskEventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ agent.PortfolioStore = (*Store)(nil)

func (s *Store) SavePortfolioSnapshot(snap agent.PortfolioSnapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	var strategies datatypes.JSON
	if len(snap.Strategies) > 0 {
		raw, err := json.Marshal(snap.Strategies)
		if err != nil {
			return err
		}
		strategies = datatypes.JSON(raw)
	}
	model := portfolioSnapshotModel{
		TotalValue:    snap.TotalValue,
		TotalInitial:  snap.TotalInitial,
		TotalCash:     snap.TotalCash,
		TotalPnL:      snap.TotalPnL,
		DailyPnL:      snap.DailyPnL,
		CapitalUsage:  snap.CapitalUsage,
		TotalTrades:   snap.TotalTrades,
		ActiveAgents:  snap.ActiveAgents,
		Emergency:     snap.EmergencyState,
		Strategies:    strategies,
		TimestampUnix: snap.Timestamp.UnixMilli(),
	}
	return s.db.Create(&model).Error
}

func (s *Store) SaveRiskEvent(e agent.RiskEvent) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	model := riskEventModel{
		EventID:       e.ID,
		Type:          string(e.Type),
		Severity:      string(e.Severity),
		StrategyID:    e.StrategyID,
		Description:   e.Description,
		CurrentValue:  e.CurrentValue,
		Threshold:     e.Threshold,
		ActionTaken:   e.ActionTaken,
		TimestampUnix: e.Timestamp.UnixMilli(),
	}
	return s.db.Create(&model).Error
}

// RecentRiskEvents returns the newest events, newest first.
func (s *Store) RecentRiskEvents(limit int) ([]agent.RiskEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []riskEventModel
	if err := s.db.Order("timestamp DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]agent.RiskEvent, 0, len(models))
	for _, m := range models {
		out = append(out, agent.RiskEvent{
			ID:           m.EventID,
			Type:         agent.RiskEventType(m.Type),
			Severity:     agent.RiskSeverity(m.Severity),
			StrategyID:   m.StrategyID,
			Description:  m.Description,
			CurrentValue: m.CurrentValue,
			Threshold:    m.Threshold,
			ActionTaken:  m.ActionTaken,
			Timestamp:    time.UnixMilli(m.TimestampUnix),
		})
	}
	return out, nil
}

// RecentSnapshots returns the newest portfolio snapshots, newest first.
func (s *Store) RecentSnapshots(limit int) ([]agent.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []portfolioSnapshotModel
	if err := s.db.Order("timestamp DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]agent.PortfolioSnapshot, 0, len(models))
	for _, m := range models {
		snap := agent.PortfolioSnapshot{
			Timestamp:      time.UnixMilli(m.TimestampUnix),
			TotalValue:     m.TotalValue,
			TotalInitial:   m.TotalInitial,
			TotalCash:      m.TotalCash,
			TotalPnL:       m.TotalPnL,
			DailyPnL:       m.DailyPnL,
			CapitalUsage:   m.CapitalUsage,
			TotalTrades:    m.TotalTrades,
			ActiveAgents:   m.ActiveAgents,
			EmergencyState: m.Emergency,
		}
		if len(m.Strategies) > 0 {
			_ = json.Unmarshal(m.Strategies, &snap.Strategies)
		}
		out = append(out, snap)
	}
	return out, nil
}

type portfolioSnapshotModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TotalValue    float64        `gorm:"column:total_value"`
	TotalInitial  float64        `gorm:"column:total_initial"`
	TotalCash     float64        `gorm:"column:total_cash"`
	TotalPnL      float64        `gorm:"column:total_pnl"`
	DailyPnL      float64        `gorm:"column:daily_pnl"`
	CapitalUsage  float64        `gorm:"column:capital_usage"`
	TotalTrades   int            `gorm:"column:total_trades"`
	ActiveAgents  int            `gorm:"column:active_agents"`
	Emergency     bool           `gorm:"column:emergency"`
	Strategies    datatypes.JSON `gorm:"column:strategies"`
	TimestampUnix int64          `gorm:"column:timestamp;index"`
}

func (portfolioSnapshotModel) TableName() string { return "portfolio_snapshots" }

type riskEventModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	EventID       string  `gorm:"column:event_uuid;index"`
	Type          string  `gorm:"column:type;index"`
	Severity      string  `gorm:"column:severity"`
	StrategyID    string  `gorm:"column:strategy_id;index"`
	Description   string  `gorm:"column:description"`
	CurrentValue  float64 `gorm:"column:current_value"`
	Threshold     float64 `gorm:"column:threshold"`
	ActionTaken   string  `gorm:"column:action_taken"`
	TimestampUnix int64   `gorm:"column:timestamp;index"`
}

func (riskEventModel) TableName() string { return "risk_events" }
