package journal

import "database/sql"

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_uuid TEXT,
			strategy_id TEXT NOT NULL,
			instrument TEXT NOT NULL,
			direction TEXT,
			kind TEXT,
			quantity REAL,
			price REAL,
			commission REAL,
			realized_pnl REAL,
			reason TEXT,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy_ts ON trades(strategy_id, ts)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			instrument TEXT NOT NULL,
			action TEXT,
			confidence REAL,
			payload TEXT,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_strategy_ts ON decisions(strategy_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
