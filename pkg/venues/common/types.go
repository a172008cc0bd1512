package common

import (
	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types. Every venue here trades limit orders;
// the field is kept so venue history endpoints can report what they saw.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Operation is a venue-agnostic order intent. Symbol is the canonical
// BASE_QUOTE pair (e.g. "ETH_BTC"); each connector maps it to its venue's own
// naming.
type Operation struct {
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"quantity"`
}

// Order is an Operation acknowledged by a venue. The price may differ from the
// submitted one: venues truncate to their own precision.
type Order struct {
	Operation

	VenueID      string    `json:"venueId"`
	VenueOrderID string    `json:"venueOrderId"`
	Type         OrderType `json:"orderType"`
	CreatedAt    int64     `json:"createdAt"` // epoch ms
	Status       Status    `json:"status"`
}

// Trade is one fill or cancellation event. Qty is the delta filled by this
// event, never cumulative; a cancellation always carries zero.
type Trade struct {
	VenueID      string          `json:"venueId"`
	VenueOrderID string          `json:"venueOrderId"`
	TradeID      string          `json:"tradeId"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"quantity"`
	Status       Status          `json:"status"`
	Timestamp    int64           `json:"timestamp"` // epoch ms, venue-reported
}

// CancelAck acknowledges a cancellation request.
type CancelAck struct {
	VenueOrderID string `json:"venueOrderId"`
	Message      string `json:"message"`
}

// Balances maps asset symbol to available quantity. Zero balances are omitted
// by construction.
type Balances map[string]decimal.Decimal

// Ticker is a venue-stamped price snapshot.
type Ticker struct {
	VenueID string          `json:"venueId"`
	Symbol  string          `json:"symbol"`
	Last    decimal.Decimal `json:"last"`
	Ask     decimal.Decimal `json:"ask"`
	Bid     decimal.Decimal `json:"bid"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"quantity"`
}

// OrderBook is a venue-stamped depth snapshot.
type OrderBook struct {
	VenueID string      `json:"venueId"`
	Symbol  string      `json:"symbol"`
	Bids    []BookLevel `json:"bids"`
	Asks    []BookLevel `json:"asks"`
}

// OrderUpdate is a decoded push event for one order, in the venue's own
// terms: the raw status string plus either a cumulative remaining-quantity
// snapshot or, for venues that push discrete fills, the fill itself.
type OrderUpdate struct {
	VenueID      string
	VenueOrderID string
	RawStatus    string
	Price        decimal.Decimal
	OriginalQty  decimal.Decimal // order's total quantity, seeds reconciliation
	Remaining    decimal.Decimal // cumulative-snapshot venues
	FillQty      decimal.Decimal // discrete-fill venues
	TradeID      string          // discrete-fill venues
	Discrete     bool
	Timestamp    int64 // epoch ms, venue-reported
}
