package db

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS activations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    bot_name TEXT NOT NULL,
    amount_usd REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    pairs TEXT NOT NULL DEFAULT '',
    tp_pct REAL DEFAULT 0,
    sl_pct REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    activation_id TEXT NOT NULL,
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    leverage INTEGER NOT NULL DEFAULT 1,
    amount_usd REAL NOT NULL,
    entry REAL NOT NULL,
    tp_pct REAL DEFAULT 0,
    sl_pct REAL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'open',
    reason TEXT DEFAULT '',
    close_price REAL DEFAULT 0,
    pnl REAL DEFAULT 0,
    opened_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME,
    FOREIGN KEY(activation_id) REFERENCES activations(id)
);

CREATE TABLE IF NOT EXISTS payouts (
    activation_id TEXT PRIMARY KEY,
    profit REAL NOT NULL DEFAULT 0,
    net REAL NOT NULL DEFAULT 0,
    withdrawn REAL NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(activation_id) REFERENCES activations(id)
);

CREATE TABLE IF NOT EXISTS balances (
    user_id TEXT PRIMARY KEY,
    balance_usd REAL NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    activation_id TEXT NOT NULL,
    amount_usd REAL NOT NULL,
    currency TEXT NOT NULL DEFAULT 'USD',
    note TEXT DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS price_ticks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    price REAL NOT NULL,
    at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_price_ticks_symbol_at ON price_ticks(symbol, at DESC);

CREATE TABLE IF NOT EXISTS bot_events (
    id TEXT PRIMARY KEY,
    activation_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    trade_id TEXT DEFAULT '',
    amount_usd REAL DEFAULT 0,
    at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_bot_events_activation ON bot_events(activation_id, at DESC);

CREATE TABLE IF NOT EXISTS bot_profiles (
    name TEXT PRIMARY KEY,
    pairs TEXT NOT NULL DEFAULT '',
    win_rate REAL DEFAULT 0,
    avg_r REAL DEFAULT 0,
    leverage_min INTEGER DEFAULT 2,
    leverage_max INTEGER DEFAULT 10,
    tp_pct REAL DEFAULT 0,
    sl_pct REAL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "trades", "reason", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "close_price", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "activations", "tp_pct", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "activations", "sl_pct", "REAL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
