package db

import (
	"database/sql"
	"fmt"
)

// Prices and quantities are stored as TEXT and re-parsed as decimals on the
// way out, so persisted fills survive round-trips without float drift.
// Timestamps are epoch milliseconds.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    venue_id TEXT NOT NULL,
    venue_order_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    price TEXT NOT NULL,
    qty TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (venue_id, venue_order_id)
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol, created_at);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    venue_id TEXT NOT NULL,
    venue_order_id TEXT NOT NULL,
    trade_id TEXT,
    price TEXT NOT NULL,
    qty TEXT NOT NULL,
    status TEXT NOT NULL,
    ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(venue_id, venue_order_id, ts);
`

// Migrate applies the schema. Statements are idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
