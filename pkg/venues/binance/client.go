// Package binance implements the venue connector for Binance spot.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

// VenueID is the envelope key for this venue.
const VenueID = "binance"

// pricePlaces is how many decimal places the venue accepts on limit prices.
const pricePlaces = 6

// Config holds credentials and endpoint overrides.
type Config struct {
	APIKey     string
	APISecret  string
	BaseURL    string // defaults to the production REST endpoint
	StreamURL  string // defaults to the production websocket endpoint
	RecvWindow int64  // ms
}

// Client is the Binance spot connector.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	clock      *common.Clock
	usage      *common.UsageTracker

	mu        sync.RWMutex
	toVenue   map[string]string // canonical BASE_QUOTE -> ETHBTC
	fromVenue map[string]string // ETHBTC -> BASE_QUOTE
}

// New creates a connector. Symbol tables are fetched lazily from the venue's
// exchange-info endpoint on first use.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.binance.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      &common.Clock{},
		usage:      common.NewUsageTracker(1200, time.Minute),
	}
}

func (c *Client) ID() string { return VenueID }

// Statuses is the venue's full raw status vocabulary. REJECTED and EXPIRED
// both end the order without fills, which canonically is a cancellation.
func (c *Client) Statuses() common.StatusTable {
	return common.StatusTable{
		"NEW":              common.StatusNew,
		"PARTIALLY_FILLED": common.StatusPartiallyFilled,
		"FILLED":           common.StatusFilled,
		"CANCELED":         common.StatusCanceled,
		"REJECTED":         common.StatusCanceled,
		"EXPIRED":          common.StatusCanceled,
	}
}

// --- symbol mapping ---

// loadSymbols fills the bidirectional symbol tables from exchange info. The
// mapping must stay a total bijection over the venue's listed symbols, which
// the venue guarantees by listing each (base, quote) pair once.
func (c *Client) loadSymbols(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.toVenue != nil
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/exchangeInfo", nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrVenueUnreachable, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("exchange info status %d", res.StatusCode)
	}

	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return fmt.Errorf("decode exchange info: %w", err)
	}

	toVenue := make(map[string]string, len(info.Symbols))
	fromVenue := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		canonical := s.BaseAsset + "_" + s.QuoteAsset
		toVenue[canonical] = s.Symbol
		fromVenue[s.Symbol] = canonical
	}

	c.mu.Lock()
	c.toVenue = toVenue
	c.fromVenue = fromVenue
	c.mu.Unlock()
	return nil
}

func (c *Client) toVenueSymbol(ctx context.Context, symbol string) (string, error) {
	if err := c.loadSymbols(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.toVenue[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", common.ErrUnknownSymbol, symbol, VenueID)
	}
	return v, nil
}

func (c *Client) fromVenueSymbol(ctx context.Context, venueSymbol string) (string, error) {
	if err := c.loadSymbols(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.fromVenue[venueSymbol]
	if !ok {
		return "", fmt.Errorf("%w: venue symbol %s on %s", common.ErrUnknownSymbol, venueSymbol, VenueID)
	}
	return s, nil
}

// --- signing and transport ---

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classify maps a venue error payload onto the gateway taxonomy.
func classify(status int, body []byte, write bool) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Code != 0 {
		switch e.Code {
		case -2013, -2011: // unknown order / cancel rejected
			return fmt.Errorf("%w: %s", common.ErrOrderNotFound, e.Msg)
		}
		if write {
			return fmt.Errorf("%w: %s (code %d)", common.ErrVenueRejected, e.Msg, e.Code)
		}
		return fmt.Errorf("binance error %d: %s", e.Code, e.Msg)
	}
	return fmt.Errorf("binance status %d: %s", status, string(body))
}

func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values, write bool) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}

	timestamp := time.Now().UnixMilli()
	if c.clock.Offset() != 0 {
		timestamp = c.clock.Now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		// Signed params go in the query string for GET/DELETE.
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrVenueUnreachable, err)
	}
	defer res.Body.Close()

	c.usage.Observe(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, classify(res.StatusCode, body, write)
	}
	return body, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrVenueUnreachable, err)
	}
	defer res.Body.Close()

	c.usage.Observe(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, classify(res.StatusCode, body, false)
	}
	return body, nil
}

// SyncClock calibrates the request clock against the venue's server time.
func (c *Client) SyncClock(ctx context.Context) error {
	sentAt := time.Now().UnixMilli()
	body, err := c.doPublic(ctx, "/api/v3/time", nil)
	if err != nil {
		return err
	}
	receivedAt := time.Now().UnixMilli()

	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("decode server time: %w", err)
	}
	c.clock.Calibrate(res.ServerTime, sentAt, receivedAt)
	return nil
}

// --- connector surface ---

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Time          int64  `json:"time"`
	TransactTime  int64  `json:"transactTime"`
}

// venueOrderID encodes the canonical symbol into the id because the venue
// needs the symbol back on every order lookup.
func venueOrderID(symbol string, orderID int64) string {
	return fmt.Sprintf("%s-%d", symbol, orderID)
}

func splitOrderID(id string) (symbol string, orderID string, err error) {
	i := strings.LastIndex(id, "-")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("%w: malformed binance order id %q", common.ErrInvalidArgument, id)
	}
	return id[:i], id[i+1:], nil
}

// SubmitOrder places a limit order. The submitted price is truncated to the
// venue's precision, so the returned Order reports what the venue accepted.
func (c *Client) SubmitOrder(ctx context.Context, op common.Operation) (common.Order, error) {
	venueSymbol, err := c.toVenueSymbol(ctx, op.Symbol)
	if err != nil {
		return common.Order{}, err
	}

	price := op.Price.Round(pricePlaces)
	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("side", string(op.Side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", op.Qty.String())
	params.Set("price", price.StringFixed(pricePlaces))

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return common.Order{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode order response: %w", err)
	}

	createdAt := resp.TransactTime
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	return common.Order{
		Operation: common.Operation{
			Symbol: op.Symbol,
			Side:   op.Side,
			Price:  price,
			Qty:    op.Qty,
		},
		VenueID:      VenueID,
		VenueOrderID: venueOrderID(op.Symbol, resp.OrderID),
		Type:         common.OrderTypeLimit,
		CreatedAt:    createdAt,
		Status:       common.StatusNew,
	}, nil
}

// CancelOrder cancels the order; an id the venue no longer knows fails with
// ErrOrderNotFound rather than reporting success.
func (c *Client) CancelOrder(ctx context.Context, ord common.Order) (common.CancelAck, error) {
	symbol, orderID, err := splitOrderID(ord.VenueOrderID)
	if err != nil {
		return common.CancelAck{}, err
	}
	venueSymbol, err := c.toVenueSymbol(ctx, symbol)
	if err != nil {
		return common.CancelAck{}, err
	}

	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("orderId", orderID)
	if _, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params, false); err != nil {
		return common.CancelAck{}, err
	}
	return common.CancelAck{
		VenueOrderID: ord.VenueOrderID,
		Message:      fmt.Sprintf("canceled order %s on %s", ord.VenueOrderID, VenueID),
	}, nil
}

// GetBalances returns assets with a nonzero free amount.
func (c *Client) GetBalances(ctx context.Context) (common.Balances, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{}, false)
	if err != nil {
		return nil, err
	}

	var info struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}

	balances := make(common.Balances)
	for _, b := range info.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil || free.IsZero() {
			continue
		}
		balances[b.Asset] = free
	}
	return balances, nil
}

// GetTicker returns the 24h ticker's last/ask/bid for the symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	venueSymbol, err := c.toVenueSymbol(ctx, symbol)
	if err != nil {
		return common.Ticker{}, err
	}

	params := url.Values{}
	params.Set("symbol", venueSymbol)
	body, err := c.doPublic(ctx, "/api/v3/ticker/24hr", params)
	if err != nil {
		return common.Ticker{}, err
	}

	var stats struct {
		LastPrice string `json:"lastPrice"`
		AskPrice  string `json:"askPrice"`
		BidPrice  string `json:"bidPrice"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		return common.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	return common.Ticker{
		VenueID: VenueID,
		Symbol:  symbol,
		Last:    mustDecimal(stats.LastPrice),
		Ask:     mustDecimal(stats.AskPrice),
		Bid:     mustDecimal(stats.BidPrice),
	}, nil
}

// GetOrderBook returns the depth snapshot for the symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	venueSymbol, err := c.toVenueSymbol(ctx, symbol)
	if err != nil {
		return common.OrderBook{}, err
	}

	params := url.Values{}
	params.Set("symbol", venueSymbol)
	body, err := c.doPublic(ctx, "/api/v3/depth", params)
	if err != nil {
		return common.OrderBook{}, err
	}

	var depth struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &depth); err != nil {
		return common.OrderBook{}, fmt.Errorf("decode depth: %w", err)
	}

	book := common.OrderBook{VenueID: VenueID, Symbol: symbol}
	for _, lvl := range depth.Bids {
		if len(lvl) < 2 {
			continue
		}
		book.Bids = append(book.Bids, common.BookLevel{Price: mustDecimal(lvl[0]), Qty: mustDecimal(lvl[1])})
	}
	for _, lvl := range depth.Asks {
		if len(lvl) < 2 {
			continue
		}
		book.Asks = append(book.Asks, common.BookLevel{Price: mustDecimal(lvl[0]), Qty: mustDecimal(lvl[1])})
	}
	return book, nil
}

// GetOrderStatus fetches one order by its encoded id.
func (c *Client) GetOrderStatus(ctx context.Context, id string) (common.Order, error) {
	symbol, orderID, err := splitOrderID(id)
	if err != nil {
		return common.Order{}, err
	}
	venueSymbol, err := c.toVenueSymbol(ctx, symbol)
	if err != nil {
		return common.Order{}, err
	}

	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("orderId", orderID)
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", params, false)
	if err != nil {
		return common.Order{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return c.toOrder(symbol, resp)
}

func (c *Client) toOrder(symbol string, resp orderResponse) (common.Order, error) {
	status, err := c.Statuses().Normalize(VenueID, resp.Status)
	if err != nil {
		return common.Order{}, err
	}
	return common.Order{
		Operation: common.Operation{
			Symbol: symbol,
			Side:   common.Side(resp.Side),
			Price:  mustDecimal(resp.Price),
			Qty:    mustDecimal(resp.OrigQty),
		},
		VenueID:      VenueID,
		VenueOrderID: venueOrderID(symbol, resp.OrderID),
		Type:         common.OrderType(resp.Type),
		CreatedAt:    resp.Time,
		Status:       status,
	}, nil
}

// GetOrderHistory returns orders within [start, end]; the venue filters by
// native startTime/endTime bounds.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, start, end time.Time) ([]common.Order, error) {
	venueSymbol, err := c.toVenueSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/allOrders", params, false)
	if err != nil {
		return nil, err
	}

	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode all orders: %w", err)
	}

	orders := make([]common.Order, 0, len(resp))
	for _, r := range resp {
		ord, err := c.toOrder(symbol, r)
		if err != nil {
			return nil, err
		}
		orders = append(orders, ord)
	}
	return orders, nil
}

// GetOpenOrders returns open orders grouped by canonical symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) (map[string][]common.Order, error) {
	params := url.Values{}
	if symbol != "" {
		venueSymbol, err := c.toVenueSymbol(ctx, symbol)
		if err != nil {
			return nil, err
		}
		params.Set("symbol", venueSymbol)
	}

	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/openOrders", params, false)
	if err != nil {
		return nil, err
	}

	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	grouped := make(map[string][]common.Order)
	for _, r := range resp {
		canonical, err := c.fromVenueSymbol(ctx, r.Symbol)
		if err != nil {
			return nil, err
		}
		ord, err := c.toOrder(canonical, r)
		if err != nil {
			return nil, err
		}
		grouped[canonical] = append(grouped[canonical], ord)
	}
	return grouped, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
