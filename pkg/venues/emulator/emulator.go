// Package emulator provides an in-memory venue connector for development
// and integration testing. It implements the whole connector surface and
// drives the fills stream with synthetic remaining-quantity snapshots, so
// the rest of the gateway exercises the same paths as with a live venue.
package emulator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

// pricePlaces matches the tightest precision accepted by the live venues.
const pricePlaces = 7

// Config controls the emulated venue.
type Config struct {
	// VenueID is the id the emulator reports. It stands in for a live
	// venue, so it carries that venue's id rather than "emulator".
	VenueID string
	// Balances seeds the account. Defaults to a small BTC/ETH book.
	Balances map[string]decimal.Decimal
	// FillDelay is the pause between synthetic fill snapshots.
	FillDelay time.Duration
	// FillSteps is how many partial fills an order is split into.
	FillSteps int
}

// Client is the emulated connector.
type Client struct {
	cfg Config

	mu     sync.Mutex
	orders map[string]*common.Order

	streamMu sync.Mutex
	subs     map[int]chan common.OrderUpdate
	nextSub  int
}

// New creates an emulated venue.
func New(cfg Config) *Client {
	if cfg.VenueID == "" {
		cfg.VenueID = "emulator"
	}
	if cfg.Balances == nil {
		cfg.Balances = map[string]decimal.Decimal{
			"BTC": decimal.RequireFromString("1.5"),
			"ETH": decimal.RequireFromString("20"),
		}
	}
	if cfg.FillDelay <= 0 {
		cfg.FillDelay = 200 * time.Millisecond
	}
	if cfg.FillSteps <= 0 {
		cfg.FillSteps = 2
	}
	return &Client{
		cfg:    cfg,
		orders: make(map[string]*common.Order),
		subs:   make(map[int]chan common.OrderUpdate),
	}
}

func (c *Client) ID() string { return c.cfg.VenueID }

func (c *Client) Statuses() common.StatusTable {
	return common.StatusTable{
		"NEW":              common.StatusNew,
		"PARTIALLY_FILLED": common.StatusPartiallyFilled,
		"FILLED":           common.StatusFilled,
		"CANCELED":         common.StatusCanceled,
	}
}

// SubmitOrder accepts the order and schedules its synthetic fills.
func (c *Client) SubmitOrder(ctx context.Context, op common.Operation) (common.Order, error) {
	if op.Qty.Sign() <= 0 || op.Price.Sign() <= 0 {
		return common.Order{}, fmt.Errorf("%w: price and qty must be positive", common.ErrVenueRejected)
	}

	ord := common.Order{
		Operation: common.Operation{
			Symbol: op.Symbol,
			Side:   op.Side,
			Price:  op.Price.Round(pricePlaces),
			Qty:    op.Qty,
		},
		VenueID:      c.cfg.VenueID,
		VenueOrderID: uuid.NewString(),
		Type:         common.OrderTypeLimit,
		CreatedAt:    time.Now().UnixMilli(),
		Status:       common.StatusNew,
	}

	c.mu.Lock()
	stored := ord
	c.orders[ord.VenueOrderID] = &stored
	c.mu.Unlock()

	go c.fill(ord)
	return ord, nil
}

// fill walks the order to completion with remaining-quantity snapshots.
func (c *Client) fill(ord common.Order) {
	step := ord.Qty.Div(decimal.NewFromInt(int64(c.cfg.FillSteps)))
	remaining := ord.Qty
	for i := 0; i < c.cfg.FillSteps; i++ {
		time.Sleep(c.cfg.FillDelay)

		c.mu.Lock()
		stored, ok := c.orders[ord.VenueOrderID]
		if !ok || stored.Status == common.StatusCanceled {
			c.mu.Unlock()
			return
		}
		if i == c.cfg.FillSteps-1 {
			remaining = decimal.Zero
			stored.Status = common.StatusFilled
		} else {
			remaining = remaining.Sub(step)
			stored.Status = common.StatusPartiallyFilled
		}
		c.mu.Unlock()

		raw := "PARTIALLY_FILLED"
		if remaining.IsZero() {
			raw = "FILLED"
		}
		c.broadcast(common.OrderUpdate{
			VenueID:      c.cfg.VenueID,
			VenueOrderID: ord.VenueOrderID,
			RawStatus:    raw,
			Price:        ord.Price,
			OriginalQty:  ord.Qty,
			Remaining:    remaining,
			Timestamp:    time.Now().UnixMilli(),
		})
	}
}

// CancelOrder cancels an open order and pushes the cancel on the stream.
func (c *Client) CancelOrder(ctx context.Context, ord common.Order) (common.CancelAck, error) {
	c.mu.Lock()
	stored, ok := c.orders[ord.VenueOrderID]
	if !ok {
		c.mu.Unlock()
		return common.CancelAck{}, fmt.Errorf("%w: order %s", common.ErrOrderNotFound, ord.VenueOrderID)
	}
	if stored.Status.Terminal() {
		c.mu.Unlock()
		return common.CancelAck{}, fmt.Errorf("%w: order %s already %s", common.ErrVenueRejected, ord.VenueOrderID, stored.Status)
	}
	stored.Status = common.StatusCanceled
	c.mu.Unlock()

	c.broadcast(common.OrderUpdate{
		VenueID:      c.cfg.VenueID,
		VenueOrderID: ord.VenueOrderID,
		RawStatus:    "CANCELED",
		Timestamp:    time.Now().UnixMilli(),
	})
	return common.CancelAck{
		VenueOrderID: ord.VenueOrderID,
		Message:      fmt.Sprintf("canceled order %s on %s", ord.VenueOrderID, c.cfg.VenueID),
	}, nil
}

func (c *Client) GetBalances(ctx context.Context) (common.Balances, error) {
	out := make(common.Balances, len(c.cfg.Balances))
	for currency, amount := range c.cfg.Balances {
		out[currency] = amount
	}
	return out, nil
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	last := syntheticPrice(symbol)
	spread := last.Mul(decimal.RequireFromString("0.001"))
	return common.Ticker{
		VenueID: c.cfg.VenueID,
		Symbol:  symbol,
		Last:    last,
		Ask:     last.Add(spread),
		Bid:     last.Sub(spread),
	}, nil
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	last := syntheticPrice(symbol)
	tick := last.Mul(decimal.RequireFromString("0.0005"))
	book := common.OrderBook{VenueID: c.cfg.VenueID, Symbol: symbol}
	for i := 1; i <= 5; i++ {
		off := tick.Mul(decimal.NewFromInt(int64(i)))
		qty := decimal.NewFromInt(int64(i))
		book.Bids = append(book.Bids, common.BookLevel{Price: last.Sub(off), Qty: qty})
		book.Asks = append(book.Asks, common.BookLevel{Price: last.Add(off), Qty: qty})
	}
	return book, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, venueOrderID string) (common.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored, ok := c.orders[venueOrderID]
	if !ok {
		return common.Order{}, fmt.Errorf("%w: order %s", common.ErrOrderNotFound, venueOrderID)
	}
	return *stored, nil
}

func (c *Client) GetOrderHistory(ctx context.Context, symbol string, start, end time.Time) ([]common.Order, error) {
	lo, hi := start.UnixMilli(), end.UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []common.Order
	for _, ord := range c.orders {
		if !ord.Status.Terminal() || ord.Symbol != symbol {
			continue
		}
		if ord.CreatedAt < lo || ord.CreatedAt > hi {
			continue
		}
		out = append(out, *ord)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) (map[string][]common.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	grouped := make(map[string][]common.Order)
	for _, ord := range c.orders {
		if ord.Status.Terminal() {
			continue
		}
		if symbol != "" && ord.Symbol != symbol {
			continue
		}
		grouped[ord.Symbol] = append(grouped[ord.Symbol], *ord)
	}
	for _, orders := range grouped {
		sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt < orders[j].CreatedAt })
	}
	return grouped, nil
}

// syntheticPrice derives a stable, positive pseudo price from the symbol so
// repeated calls agree with each other.
func syntheticPrice(symbol string) decimal.Decimal {
	var h uint32
	for _, r := range symbol {
		h = h*31 + uint32(r)
	}
	cents := int64(h%100000) + 100
	return decimal.New(cents, -5)
}

func (c *Client) broadcast(u common.OrderUpdate) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Stream implements the fills stream over the in-process broadcast.
type Stream struct {
	client *Client
}

func (c *Client) Stream() common.Stream { return &Stream{client: c} }

func (s *Stream) Subscribe(ctx context.Context) (<-chan common.OrderUpdate, func(), error) {
	c := s.client
	ch := make(chan common.OrderUpdate, 64)

	c.streamMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.streamMu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.streamMu.Lock()
			delete(c.subs, id)
			c.streamMu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}
