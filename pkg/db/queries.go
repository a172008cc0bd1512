package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trading-gateway/pkg/venues/common"
)

var ErrNotFound = errors.New("record not found")

// Queries provides typed access to the gateway tables.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// UpsertOrder records an order, replacing a prior row for the same
// (venue, venue order id).
func (q *Queries) UpsertOrder(ctx context.Context, ord common.Order, now int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (venue_id, venue_order_id, symbol, side, order_type, price, qty, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(venue_id, venue_order_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, ord.VenueID, ord.VenueOrderID, ord.Symbol, string(ord.Side), string(ord.Type),
		ord.Price.String(), ord.Qty.String(), string(ord.Status), ord.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus transitions a stored order.
func (q *Queries) UpdateOrderStatus(ctx context.Context, venueID, venueOrderID string, status common.Status, now int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE venue_id = ? AND venue_order_id = ?
	`, string(status), now, venueID, venueOrderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrder fetches one stored order.
func (q *Queries) GetOrder(ctx context.Context, venueID, venueOrderID string) (common.Order, error) {
	var r orderRow
	err := q.db.QueryRowContext(ctx, `
		SELECT venue_id, venue_order_id, symbol, side, order_type, price, qty, status, created_at
		FROM orders WHERE venue_id = ? AND venue_order_id = ?
	`, venueID, venueOrderID).Scan(
		&r.VenueID, &r.VenueOrderID, &r.Symbol, &r.Side, &r.OrderType, &r.Price, &r.Qty, &r.Status, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Order{}, ErrNotFound
	}
	if err != nil {
		return common.Order{}, fmt.Errorf("query order: %w", err)
	}
	return r.toOrder()
}

// ListOrders returns stored orders for a symbol, newest first.
func (q *Queries) ListOrders(ctx context.Context, symbol string, limit int) ([]common.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT venue_id, venue_order_id, symbol, side, order_type, price, qty, status, created_at
		FROM orders WHERE symbol = ? ORDER BY created_at DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []common.Order
	for rows.Next() {
		var r orderRow
		if err := rows.Scan(&r.VenueID, &r.VenueOrderID, &r.Symbol, &r.Side, &r.OrderType, &r.Price, &r.Qty, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		ord, err := r.toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, ord)
	}
	return orders, rows.Err()
}

// InsertTrade appends one reconciled trade.
func (q *Queries) InsertTrade(ctx context.Context, tr common.Trade) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trades (venue_id, venue_order_id, trade_id, price, qty, status, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tr.VenueID, tr.VenueOrderID, tr.TradeID, tr.Price.String(), tr.Qty.String(), string(tr.Status), tr.Timestamp)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTradesByOrder returns the fills recorded for one order, oldest first.
func (q *Queries) ListTradesByOrder(ctx context.Context, venueID, venueOrderID string) ([]common.Trade, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT venue_id, venue_order_id, COALESCE(trade_id, ''), price, qty, status, ts
		FROM trades WHERE venue_id = ? AND venue_order_id = ? ORDER BY ts ASC, id ASC
	`, venueID, venueOrderID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []common.Trade
	for rows.Next() {
		var r tradeRow
		if err := rows.Scan(&r.VenueID, &r.VenueOrderID, &r.TradeID, &r.Price, &r.Qty, &r.Status, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr, err := r.toTrade()
		if err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// ListRecentTrades returns the latest trades across all venues.
func (q *Queries) ListRecentTrades(ctx context.Context, limit int) ([]common.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT venue_id, venue_order_id, COALESCE(trade_id, ''), price, qty, status, ts
		FROM trades ORDER BY ts DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	var trades []common.Trade
	for rows.Next() {
		var r tradeRow
		if err := rows.Scan(&r.VenueID, &r.VenueOrderID, &r.TradeID, &r.Price, &r.Qty, &r.Status, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr, err := r.toTrade()
		if err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}
