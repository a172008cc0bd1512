// Package bittrex implements the venue connector for Bittrex (API v1.1).
package bittrex

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

// VenueID is the envelope key for this venue.
const VenueID = "bittrex"

// The venue timestamps carry no zone and are UTC.
const timeLayout = "2006-01-02T15:04:05.999"

// Config holds credentials and endpoint overrides.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // defaults to the production REST endpoint
	StreamURL string // defaults to the production signalr endpoint
}

// Client is the Bittrex connector.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// New creates a connector.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://bittrex.com/api/v1.1"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) ID() string { return VenueID }

// Statuses covers both vocabularies the venue speaks: order-state strings
// derived from REST fields and the numeric delta types pushed on the stream
// (0 open, 1 partial, 2 filled, 3 canceled).
func (c *Client) Statuses() common.StatusTable {
	return common.StatusTable{
		"OPEN":      common.StatusNew,
		"PARTIAL":   common.StatusPartiallyFilled,
		"COMPLETED": common.StatusFilled,
		"CANCELED":  common.StatusCanceled,
		"0":         common.StatusNew,
		"1":         common.StatusPartiallyFilled,
		"2":         common.StatusFilled,
		"3":         common.StatusCanceled,
	}
}

// --- symbol mapping ---

// The venue names markets QUOTE-BASE: canonical ETH_BTC is BTC-ETH there.
func toVenueSymbol(symbol string) (string, error) {
	base, quote, ok := strings.Cut(symbol, "_")
	if !ok || base == "" || quote == "" {
		return "", fmt.Errorf("%w: %s on %s", common.ErrUnknownSymbol, symbol, VenueID)
	}
	return quote + "-" + base, nil
}

func fromVenueSymbol(market string) (string, error) {
	quote, base, ok := strings.Cut(market, "-")
	if !ok || base == "" || quote == "" {
		return "", fmt.Errorf("%w: venue market %s on %s", common.ErrUnknownSymbol, market, VenueID)
	}
	return base + "_" + quote, nil
}

// --- signing and transport ---

func sign(uri, secret string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write([]byte(uri))
	return hex.EncodeToString(h.Sum(nil))
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// notFoundMessages are venue responses meaning the order id is unknown or no
// longer open; canceling a terminal order must not look like success.
var notFoundMessages = map[string]bool{
	"UUID_INVALID":   true,
	"INVALID_ORDER":  true,
	"ORDER_NOT_OPEN": true,
}

func (c *Client) do(ctx context.Context, path string, params url.Values, signed, write bool) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
			return nil, errors.New("bittrex: API key/secret required")
		}
		params.Set("apikey", c.cfg.APIKey)
		params.Set("nonce", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if signed {
		req.Header.Set("apisign", sign(endpoint, c.cfg.APISecret))
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrVenueUnreachable, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("bittrex status %d: %s", res.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode bittrex response: %w", err)
	}
	if !env.Success {
		if notFoundMessages[env.Message] {
			return nil, fmt.Errorf("%w: %s", common.ErrOrderNotFound, env.Message)
		}
		if write {
			return nil, fmt.Errorf("%w: %s", common.ErrVenueRejected, env.Message)
		}
		return nil, fmt.Errorf("bittrex error: %s", env.Message)
	}
	return env.Result, nil
}

// --- connector surface ---

// SubmitOrder places a limit order via buylimit/selllimit.
func (c *Client) SubmitOrder(ctx context.Context, op common.Operation) (common.Order, error) {
	market, err := toVenueSymbol(op.Symbol)
	if err != nil {
		return common.Order{}, err
	}

	path := "/market/buylimit"
	if op.Side == common.SideSell {
		path = "/market/selllimit"
	}
	params := url.Values{}
	params.Set("market", market)
	params.Set("quantity", op.Qty.String())
	params.Set("rate", op.Price.String())

	result, err := c.do(ctx, path, params, true, true)
	if err != nil {
		return common.Order{}, err
	}

	var resp struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode submit response: %w", err)
	}

	// The venue ack carries only the uuid; fetch the accepted order back so
	// the caller sees the venue's own price precision.
	return c.GetOrderStatus(ctx, resp.UUID)
}

// CancelOrder cancels by uuid.
func (c *Client) CancelOrder(ctx context.Context, ord common.Order) (common.CancelAck, error) {
	params := url.Values{}
	params.Set("uuid", ord.VenueOrderID)
	if _, err := c.do(ctx, "/market/cancel", params, true, false); err != nil {
		return common.CancelAck{}, err
	}
	return common.CancelAck{
		VenueOrderID: ord.VenueOrderID,
		Message:      fmt.Sprintf("canceled order %s on %s", ord.VenueOrderID, VenueID),
	}, nil
}

// GetBalances returns currencies with a nonzero balance.
func (c *Client) GetBalances(ctx context.Context) (common.Balances, error) {
	result, err := c.do(ctx, "/account/getbalances", nil, true, false)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Currency string          `json:"Currency"`
		Balance  decimal.Decimal `json:"Balance"`
	}
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}

	balances := make(common.Balances)
	for _, row := range rows {
		if row.Balance.IsZero() {
			continue
		}
		balances[row.Currency] = row.Balance
	}
	return balances, nil
}

// GetTicker returns last/ask/bid for the symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	market, err := toVenueSymbol(symbol)
	if err != nil {
		return common.Ticker{}, err
	}

	params := url.Values{}
	params.Set("market", market)
	result, err := c.do(ctx, "/public/getticker", params, false, false)
	if err != nil {
		return common.Ticker{}, err
	}

	var t struct {
		Bid  decimal.Decimal `json:"Bid"`
		Ask  decimal.Decimal `json:"Ask"`
		Last decimal.Decimal `json:"Last"`
	}
	if err := json.Unmarshal(result, &t); err != nil {
		return common.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	return common.Ticker{
		VenueID: VenueID,
		Symbol:  symbol,
		Last:    t.Last,
		Ask:     t.Ask,
		Bid:     t.Bid,
	}, nil
}

// GetOrderBook returns both book sides for the symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	market, err := toVenueSymbol(symbol)
	if err != nil {
		return common.OrderBook{}, err
	}

	params := url.Values{}
	params.Set("market", market)
	params.Set("type", "both")
	result, err := c.do(ctx, "/public/getorderbook", params, false, false)
	if err != nil {
		return common.OrderBook{}, err
	}

	var book struct {
		Buy []struct {
			Quantity decimal.Decimal `json:"Quantity"`
			Rate     decimal.Decimal `json:"Rate"`
		} `json:"buy"`
		Sell []struct {
			Quantity decimal.Decimal `json:"Quantity"`
			Rate     decimal.Decimal `json:"Rate"`
		} `json:"sell"`
	}
	if err := json.Unmarshal(result, &book); err != nil {
		return common.OrderBook{}, fmt.Errorf("decode order book: %w", err)
	}

	out := common.OrderBook{VenueID: VenueID, Symbol: symbol}
	for _, lvl := range book.Buy {
		out.Bids = append(out.Bids, common.BookLevel{Price: lvl.Rate, Qty: lvl.Quantity})
	}
	for _, lvl := range book.Sell {
		out.Asks = append(out.Asks, common.BookLevel{Price: lvl.Rate, Qty: lvl.Quantity})
	}
	return out, nil
}

type orderRow struct {
	OrderUuid         string          `json:"OrderUuid"`
	Exchange          string          `json:"Exchange"`
	OrderType         string          `json:"OrderType"`
	Type              string          `json:"Type"`
	Quantity          decimal.Decimal `json:"Quantity"`
	QuantityRemaining decimal.Decimal `json:"QuantityRemaining"`
	Limit             decimal.Decimal `json:"Limit"`
	Opened            string          `json:"Opened"`
	Closed            string          `json:"Closed"`
	TimeStamp         string          `json:"TimeStamp"`
	IsOpen            bool            `json:"IsOpen"`
	CancelInitiated   bool            `json:"CancelInitiated"`
}

// rawStatus derives the venue's order-state word from REST fields.
func (r orderRow) rawStatus() string {
	if r.IsOpen {
		if r.QuantityRemaining.LessThan(r.Quantity) {
			return "PARTIAL"
		}
		return "OPEN"
	}
	if r.CancelInitiated || r.QuantityRemaining.Sign() > 0 {
		return "CANCELED"
	}
	return "COMPLETED"
}

// side extracts the side from order types like LIMIT_BUY.
func (r orderRow) side() common.Side {
	t := r.OrderType
	if t == "" {
		t = r.Type
	}
	if strings.HasSuffix(t, "_SELL") {
		return common.SideSell
	}
	return common.SideBuy
}

func (r orderRow) createdAt() int64 {
	for _, s := range []string{r.Opened, r.TimeStamp} {
		if s == "" {
			continue
		}
		if t, err := time.ParseInLocation(timeLayout, s, time.UTC); err == nil {
			return t.UnixMilli()
		}
	}
	return time.Now().UnixMilli()
}

func (c *Client) toOrder(r orderRow) (common.Order, error) {
	symbol, err := fromVenueSymbol(r.Exchange)
	if err != nil {
		return common.Order{}, err
	}
	status, err := c.Statuses().Normalize(VenueID, r.rawStatus())
	if err != nil {
		return common.Order{}, err
	}
	return common.Order{
		Operation: common.Operation{
			Symbol: symbol,
			Side:   r.side(),
			Price:  r.Limit,
			Qty:    r.Quantity,
		},
		VenueID:      VenueID,
		VenueOrderID: r.OrderUuid,
		Type:         common.OrderTypeLimit,
		CreatedAt:    r.createdAt(),
		Status:       status,
	}, nil
}

// GetOrderStatus fetches one order by uuid.
func (c *Client) GetOrderStatus(ctx context.Context, venueOrderID string) (common.Order, error) {
	params := url.Values{}
	params.Set("uuid", venueOrderID)
	result, err := c.do(ctx, "/account/getorder", params, true, false)
	if err != nil {
		return common.Order{}, err
	}

	var row orderRow
	if err := json.Unmarshal(result, &row); err != nil {
		return common.Order{}, fmt.Errorf("decode order: %w", err)
	}
	if row.OrderUuid == "" {
		row.OrderUuid = venueOrderID
	}
	return c.toOrder(row)
}

// GetOrderHistory returns orders within [start, end]. The venue has no native
// time bounds, so the unfiltered history is filtered client-side.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, start, end time.Time) ([]common.Order, error) {
	market, err := toVenueSymbol(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("market", market)
	result, err := c.do(ctx, "/account/getorderhistory", params, true, false)
	if err != nil {
		return nil, err
	}

	var rows []orderRow
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, fmt.Errorf("decode order history: %w", err)
	}

	var orders []common.Order
	for _, row := range rows {
		ord, err := c.toOrder(row)
		if err != nil {
			return nil, err
		}
		if ord.CreatedAt < start.UnixMilli() || ord.CreatedAt > end.UnixMilli() {
			continue
		}
		orders = append(orders, ord)
	}
	return orders, nil
}

// GetOpenOrders returns open orders grouped by canonical symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) (map[string][]common.Order, error) {
	params := url.Values{}
	if symbol != "" {
		market, err := toVenueSymbol(symbol)
		if err != nil {
			return nil, err
		}
		params.Set("market", market)
	}

	result, err := c.do(ctx, "/market/getopenorders", params, true, false)
	if err != nil {
		return nil, err
	}

	var rows []orderRow
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	grouped := make(map[string][]common.Order)
	for _, row := range rows {
		row.IsOpen = true
		ord, err := c.toOrder(row)
		if err != nil {
			return nil, err
		}
		grouped[ord.Symbol] = append(grouped[ord.Symbol], ord)
	}
	return grouped, nil
}
