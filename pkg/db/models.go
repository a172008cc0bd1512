package db

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

// orderRow is the scan target for the orders table.
type orderRow struct {
	VenueID      string
	VenueOrderID string
	Symbol       string
	Side         string
	OrderType    string
	Price        string
	Qty          string
	Status       string
	CreatedAt    int64
}

func (r orderRow) toOrder() (common.Order, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return common.Order{}, fmt.Errorf("stored price %q: %w", r.Price, err)
	}
	qty, err := decimal.NewFromString(r.Qty)
	if err != nil {
		return common.Order{}, fmt.Errorf("stored qty %q: %w", r.Qty, err)
	}
	return common.Order{
		Operation: common.Operation{
			Symbol: r.Symbol,
			Side:   common.Side(r.Side),
			Price:  price,
			Qty:    qty,
		},
		VenueID:      r.VenueID,
		VenueOrderID: r.VenueOrderID,
		Type:         common.OrderType(r.OrderType),
		CreatedAt:    r.CreatedAt,
		Status:       common.Status(r.Status),
	}, nil
}

// tradeRow is the scan target for the trades table.
type tradeRow struct {
	VenueID      string
	VenueOrderID string
	TradeID      string
	Price        string
	Qty          string
	Status       string
	Timestamp    int64
}

func (r tradeRow) toTrade() (common.Trade, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return common.Trade{}, fmt.Errorf("stored price %q: %w", r.Price, err)
	}
	qty, err := decimal.NewFromString(r.Qty)
	if err != nil {
		return common.Trade{}, fmt.Errorf("stored qty %q: %w", r.Qty, err)
	}
	return common.Trade{
		VenueID:      r.VenueID,
		VenueOrderID: r.VenueOrderID,
		TradeID:      r.TradeID,
		Price:        price,
		Qty:          qty,
		Status:       common.Status(r.Status),
		Timestamp:    r.Timestamp,
	}, nil
}
