package common

import (
	"context"
	"time"
)

// Connector abstracts a trading venue. One implementation exists per venue;
// all of them return canonical entities keyed by canonical symbols.
type Connector interface {
	// ID returns the venue identifier used as envelope key.
	ID() string

	// SubmitOrder places a limit order. The returned Order's price may differ
	// from op.Price by venue precision truncation.
	SubmitOrder(ctx context.Context, op Operation) (Order, error)

	// CancelOrder cancels an open order. Canceling an order the venue no
	// longer knows fails with ErrOrderNotFound.
	CancelOrder(ctx context.Context, ord Order) (CancelAck, error)

	// GetBalances returns nonzero available balances.
	GetBalances(ctx context.Context) (Balances, error)

	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetOrderBook(ctx context.Context, symbol string) (OrderBook, error)

	// GetOrderStatus fetches the current state of one order.
	GetOrderStatus(ctx context.Context, venueOrderID string) (Order, error)

	// GetOrderHistory returns orders for symbol within [start, end]. Venues
	// without native bounds are client-filtered.
	GetOrderHistory(ctx context.Context, symbol string, start, end time.Time) ([]Order, error)

	// GetOpenOrders returns open orders grouped by canonical symbol. An empty
	// symbol means all symbols.
	GetOpenOrders(ctx context.Context, symbol string) (map[string][]Order, error)

	// Stream returns the venue's push subscription handle.
	Stream() Stream

	// Statuses returns the venue's raw-status mapping table.
	Statuses() StatusTable
}

// Stream is one venue's push subscription. Subscribe dials the venue, decodes
// each frame into OrderUpdates and pushes them in arrival order; malformed
// frames are logged and dropped inside the stream. The returned stop function
// closes the connection and the channel.
type Stream interface {
	Subscribe(ctx context.Context) (<-chan OrderUpdate, func(), error)
}
