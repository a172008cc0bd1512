// Package router talks to the external order-routing service. Routing
// decisions are not made here: the service returns per-venue fragments and
// the gateway trusts them verbatim.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

// Fragment is one slice of a routed order, addressed to a single venue.
type Fragment struct {
	Symbol  string          `json:"symbol"`
	VenueID string          `json:"venueId"`
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"quantity"`
}

// Client queries the routing service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a router client for the given service base URL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// routeItem matches the service's wire shape. symbolExchange, when present,
// already carries the venue-specific symbol and wins over symbol.
type routeItem struct {
	Symbol         string          `json:"symbol"`
	SymbolExchange string          `json:"symbolExchange"`
	VenueID        string          `json:"exchangeId"`
	Price          decimal.Decimal `json:"price"`
	OrdQty         decimal.Decimal `json:"ordQty"`
}

// Route asks the service to split an order across venues.
func (c *Client) Route(ctx context.Context, symbol string, side common.Side, qty, price decimal.Decimal) ([]Fragment, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("ordQty", qty.String())
	if !price.IsZero() {
		params.Set("price", price.String())
	}

	endpoint := c.baseURL + "/api/order-route?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-HLV-KEY", c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order route request: %w", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("order route status %d: %s", res.StatusCode, string(body))
	}

	// The service signals errors as an object with a message field.
	var failure struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &failure); err == nil && failure.Message != "" {
		return nil, fmt.Errorf("order route: %s", failure.Message)
	}

	var items []routeItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode order route response: %w", err)
	}

	frags := make([]Fragment, 0, len(items))
	for _, item := range items {
		sym := item.Symbol
		if item.SymbolExchange != "" {
			sym = item.SymbolExchange
		}
		frags = append(frags, Fragment{
			Symbol:  sym,
			VenueID: item.VenueID,
			Price:   item.Price,
			Qty:     item.OrdQty,
		})
	}
	return frags, nil
}
