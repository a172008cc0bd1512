// Package gateway fans logical trading operations out to every registered
// venue connector and folds the per-venue outcomes into one envelope. A
// venue's failure never aborts or hides another venue's result.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading-gateway/pkg/router"
	"trading-gateway/pkg/venues/common"
)

// Entry is one venue's slot in a result envelope.
type Entry struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Envelope maps venue id to that venue's outcome. Key order carries no
// meaning; completion order across venues is unspecified.
type Envelope map[string]Entry

func resolve(result any) Entry {
	return Entry{Success: true, Result: result}
}

func reject(err error) Entry {
	return Entry{Success: false, Error: err.Error()}
}

// Aggregator holds the registered venue connectors.
type Aggregator struct {
	connectors map[string]common.Connector
}

// New builds an Aggregator over the given connectors, keyed by venue id.
func New(connectors []common.Connector) *Aggregator {
	m := make(map[string]common.Connector, len(connectors))
	for _, c := range connectors {
		m[c.ID()] = c
	}
	return &Aggregator{connectors: m}
}

// Connectors returns the registered connectors keyed by venue id.
func (a *Aggregator) Connectors() map[string]common.Connector {
	return a.connectors
}

// StatusTables collects every venue's raw-status table, keyed by venue id.
func (a *Aggregator) StatusTables() map[string]common.StatusTable {
	tables := make(map[string]common.StatusTable, len(a.connectors))
	for id, c := range a.connectors {
		tables[id] = c.Statuses()
	}
	return tables
}

// fanOut runs fn once per registered venue concurrently and joins on all of
// them. There is no early return on first failure or first success and no
// per-venue timeout here; transports enforce their own.
func (a *Aggregator) fanOut(fn func(c common.Connector) (any, error)) Envelope {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		env = make(Envelope, len(a.connectors))
	)
	for id, c := range a.connectors {
		wg.Add(1)
		go func(id string, c common.Connector) {
			defer wg.Done()
			result, err := fn(c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				env[id] = reject(err)
				return
			}
			env[id] = resolve(result)
		}(id, c)
	}
	wg.Wait()
	return env
}

// GetBalances fetches nonzero balances from every venue.
func (a *Aggregator) GetBalances(ctx context.Context) Envelope {
	return a.fanOut(func(c common.Connector) (any, error) {
		return c.GetBalances(ctx)
	})
}

// GetTicker fetches the symbol's ticker from every venue.
func (a *Aggregator) GetTicker(ctx context.Context, symbol string) (Envelope, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", common.ErrInvalidArgument)
	}
	return a.fanOut(func(c common.Connector) (any, error) {
		return c.GetTicker(ctx, symbol)
	}), nil
}

// GetOrderBook fetches the symbol's order book from every venue.
func (a *Aggregator) GetOrderBook(ctx context.Context, symbol string) (Envelope, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", common.ErrInvalidArgument)
	}
	return a.fanOut(func(c common.Connector) (any, error) {
		return c.GetOrderBook(ctx, symbol)
	}), nil
}

// GetOrderHistory fetches orders in [start, end] from every venue. Both
// bounds are required before any venue is contacted.
func (a *Aggregator) GetOrderHistory(ctx context.Context, symbol string, start, end time.Time) (Envelope, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", common.ErrInvalidArgument)
	}
	if start.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", common.ErrInvalidArgument)
	}
	if end.IsZero() {
		return nil, fmt.Errorf("%w: end time is required", common.ErrInvalidArgument)
	}
	return a.fanOut(func(c common.Connector) (any, error) {
		return c.GetOrderHistory(ctx, symbol, start, end)
	}), nil
}

// GetOpenOrders fetches open orders from every venue, grouped by canonical
// symbol. An empty symbol means all symbols.
func (a *Aggregator) GetOpenOrders(ctx context.Context, symbol string) Envelope {
	return a.fanOut(func(c common.Connector) (any, error) {
		return c.GetOpenOrders(ctx, symbol)
	})
}

// GetOrderStatus fetches order state for the given venue-keyed order ids.
// Only the named venues are contacted.
func (a *Aggregator) GetOrderStatus(ctx context.Context, ids map[string]string) (Envelope, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: order ids are required", common.ErrInvalidArgument)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		env = make(Envelope, len(ids))
	)
	for venueID, orderID := range ids {
		c, ok := a.connectors[venueID]
		if !ok {
			env[venueID] = reject(fmt.Errorf("venue %s is not configured", venueID))
			continue
		}
		wg.Add(1)
		go func(venueID, orderID string, c common.Connector) {
			defer wg.Done()
			ord, err := c.GetOrderStatus(ctx, orderID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				env[venueID] = reject(err)
				return
			}
			env[venueID] = resolve(ord)
		}(venueID, orderID, c)
	}
	wg.Wait()
	return env, nil
}

// CancelOrders cancels each order on its own venue concurrently.
func (a *Aggregator) CancelOrders(ctx context.Context, orders []common.Order) (Envelope, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: orders are required", common.ErrInvalidArgument)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		env = make(Envelope, len(orders))
	)
	for _, ord := range orders {
		c, ok := a.connectors[ord.VenueID]
		if !ok {
			env[ord.VenueID] = reject(fmt.Errorf("venue %s is not configured", ord.VenueID))
			continue
		}
		wg.Add(1)
		go func(ord common.Order, c common.Connector) {
			defer wg.Done()
			ack, err := c.CancelOrder(ctx, ord)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				env[ord.VenueID] = reject(err)
				return
			}
			env[ord.VenueID] = resolve(ack)
		}(ord, c)
	}
	wg.Wait()
	return env, nil
}

// SubmitRouted places each externally routed fragment on its venue. A
// fragment addressed to an unconfigured venue becomes a failure entry for
// that venue, never a failure of the whole call.
func (a *Aggregator) SubmitRouted(ctx context.Context, side common.Side, frags []router.Fragment) (Envelope, error) {
	if len(frags) == 0 {
		return nil, fmt.Errorf("%w: route fragments are required", common.ErrInvalidArgument)
	}
	if side != common.SideBuy && side != common.SideSell {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", common.ErrInvalidArgument)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		env = make(Envelope, len(frags))
	)
	for _, frag := range frags {
		c, ok := a.connectors[frag.VenueID]
		if !ok {
			env[frag.VenueID] = reject(fmt.Errorf("venue %s is not configured", frag.VenueID))
			continue
		}
		op := common.Operation{
			Symbol: frag.Symbol,
			Side:   side,
			Price:  frag.Price,
			Qty:    frag.Qty,
		}
		wg.Add(1)
		go func(venueID string, op common.Operation, c common.Connector) {
			defer wg.Done()
			ord, err := c.SubmitOrder(ctx, op)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				env[venueID] = reject(err)
				return
			}
			env[venueID] = resolve(ord)
		}(frag.VenueID, op, c)
	}
	wg.Wait()
	return env, nil
}
