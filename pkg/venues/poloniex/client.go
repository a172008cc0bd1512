// Package poloniex implements the venue connector for Poloniex.
package poloniex

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
const VenueID = "poloniex"

const timeLayout = "2006-01-02 15:04:05"

// Config holds credentials and endpoint overrides.
type Config struct {
	APIKey    string
	APISecret string
	PublicURL string // defaults to the production public endpoint
	TradeURL  string // defaults to the production trading endpoint
	StreamURL string // defaults to the production websocket endpoint
}

// Client is the Poloniex connector.
type Client struct {
	cfg        Config
	publicURL  string
	tradeURL   string
	httpClient *http.Client
}

// New creates a connector.
func New(cfg Config) *Client {
	pub := cfg.PublicURL
	if pub == "" {
		pub = "https://poloniex.com/public"
	}
	trade := cfg.TradeURL
	if trade == "" {
		trade = "https://poloniex.com/tradingApi"
	}
	return &Client{
		cfg:        cfg,
		publicURL:  pub,
		tradeURL:   trade,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) ID() string { return VenueID }

// Statuses is the venue's raw vocabulary: order-state phrases on the REST
// side, single-letter delta types on the stream.
func (c *Client) Statuses() common.StatusTable {
	return common.StatusTable{
		"Open":             common.StatusNew,
		"Partially filled": common.StatusPartiallyFilled,
		"Filled":           common.StatusFilled,
		"Canceled":         common.StatusCanceled,
	}
}

// --- symbol mapping ---

// The venue names pairs QUOTE_BASE: canonical ETH_BTC is BTC_ETH there.
func toVenueSymbol(symbol string) (string, error) {
	base, quote, ok := strings.Cut(symbol, "_")
	if !ok || base == "" || quote == "" {
		return "", fmt.Errorf("%w: %s on %s", common.ErrUnknownSymbol, symbol, VenueID)
	}
	return quote + "_" + base, nil
}

func fromVenueSymbol(pair string) (string, error) {
	quote, base, ok := strings.Cut(pair, "_")
	if !ok || base == "" || quote == "" {
		return "", fmt.Errorf("%w: venue pair %s on %s", common.ErrUnknownSymbol, pair, VenueID)
	}
	return base + "_" + quote, nil
}

// --- transport ---

func sign(payload, secret string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// venueError is the error shape both endpoints use.
type venueError struct {
	Error string `json:"error"`
}

func classify(msg string, write bool) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "invalid order") || strings.Contains(lower, "order not found") {
		return fmt.Errorf("%w: %s", common.ErrOrderNotFound, msg)
	}
	if write {
		return fmt.Errorf("%w: %s", common.ErrVenueRejected, msg)
	}
	return fmt.Errorf("poloniex error: %s", msg)
}

func (c *Client) public(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.publicURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrVenueUnreachable, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("poloniex status %d: %s", res.StatusCode, string(body))
	}
	var ve venueError
	if err := json.Unmarshal(body, &ve); err == nil && ve.Error != "" {
		return nil, classify(ve.Error, false)
	}
	return body, nil
}

// trading posts a signed command to the trading endpoint.
func (c *Client) trading(ctx context.Context, command string, params url.Values, write bool) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("poloniex: API key/secret required")
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("command", command)
	params.Set("nonce", strconv.FormatInt(time.Now().UnixMilli(), 10))
	payload := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tradeURL, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Key", c.cfg.APIKey)
	req.Header.Set("Sign", sign(payload, c.cfg.APISecret))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrVenueUnreachable, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("poloniex status %d: %s", res.StatusCode, string(body))
	}
	var ve venueError
	if err := json.Unmarshal(body, &ve); err == nil && ve.Error != "" {
		return nil, classify(ve.Error, write)
	}
	return body, nil
}

// --- connector surface ---

// SubmitOrder places a limit order via the buy/sell commands.
func (c *Client) SubmitOrder(ctx context.Context, op common.Operation) (common.Order, error) {
	pair, err := toVenueSymbol(op.Symbol)
	if err != nil {
		return common.Order{}, err
	}

	command := "buy"
	if op.Side == common.SideSell {
		command = "sell"
	}
	params := url.Values{}
	params.Set("currencyPair", pair)
	params.Set("rate", op.Price.String())
	params.Set("amount", op.Qty.String())

	body, err := c.trading(ctx, command, params, true)
	if err != nil {
		return common.Order{}, err
	}

	var resp struct {
		OrderNumber string `json:"orderNumber"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode submit response: %w", err)
	}

	return common.Order{
		Operation:    op,
		VenueID:      VenueID,
		VenueOrderID: resp.OrderNumber,
		Type:         common.OrderTypeLimit,
		CreatedAt:    time.Now().UnixMilli(),
		Status:       common.StatusNew,
	}, nil
}

// CancelOrder cancels by order number.
func (c *Client) CancelOrder(ctx context.Context, ord common.Order) (common.CancelAck, error) {
	params := url.Values{}
	params.Set("orderNumber", ord.VenueOrderID)
	if _, err := c.trading(ctx, "cancelOrder", params, false); err != nil {
		return common.CancelAck{}, err
	}
	return common.CancelAck{
		VenueOrderID: ord.VenueOrderID,
		Message:      fmt.Sprintf("canceled order %s on %s", ord.VenueOrderID, VenueID),
	}, nil
}

// GetBalances returns currencies with a nonzero balance.
func (c *Client) GetBalances(ctx context.Context) (common.Balances, error) {
	body, err := c.trading(ctx, "returnBalances", nil, false)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}

	balances := make(common.Balances)
	for currency, amount := range raw {
		d, err := decimal.NewFromString(amount)
		if err != nil || d.IsZero() {
			continue
		}
		balances[currency] = d
	}
	return balances, nil
}

// GetTicker returns last/ask/bid for the symbol. The venue only serves the
// full ticker table, so the pair is selected client-side.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	pair, err := toVenueSymbol(symbol)
	if err != nil {
		return common.Ticker{}, err
	}

	params := url.Values{}
	params.Set("command", "returnTicker")
	body, err := c.public(ctx, params)
	if err != nil {
		return common.Ticker{}, err
	}

	var table map[string]struct {
		Last       decimal.Decimal `json:"last"`
		LowestAsk  decimal.Decimal `json:"lowestAsk"`
		HighestBid decimal.Decimal `json:"highestBid"`
	}
	if err := json.Unmarshal(body, &table); err != nil {
		return common.Ticker{}, fmt.Errorf("decode ticker table: %w", err)
	}

	t, ok := table[pair]
	if !ok {
		return common.Ticker{}, fmt.Errorf("%w: %s on %s", common.ErrUnknownSymbol, symbol, VenueID)
	}
	return common.Ticker{
		VenueID: VenueID,
		Symbol:  symbol,
		Last:    t.Last,
		Ask:     t.LowestAsk,
		Bid:     t.HighestBid,
	}, nil
}

// bookLevel decodes the venue's [price, qty] arrays, where price is a string
// and qty a bare number.
type bookLevel [2]json.RawMessage

func (l bookLevel) decode() (common.BookLevel, error) {
	price, err := rawDecimal(l[0])
	if err != nil {
		return common.BookLevel{}, err
	}
	qty, err := rawDecimal(l[1])
	if err != nil {
		return common.BookLevel{}, err
	}
	return common.BookLevel{Price: price, Qty: qty}, nil
}

func rawDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromFloat(f), nil
}

// GetOrderBook returns the depth snapshot for the symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	pair, err := toVenueSymbol(symbol)
	if err != nil {
		return common.OrderBook{}, err
	}

	params := url.Values{}
	params.Set("command", "returnOrderBook")
	params.Set("currencyPair", pair)
	params.Set("depth", "100")
	body, err := c.public(ctx, params)
	if err != nil {
		return common.OrderBook{}, err
	}

	var book struct {
		Asks []bookLevel `json:"asks"`
		Bids []bookLevel `json:"bids"`
	}
	if err := json.Unmarshal(body, &book); err != nil {
		return common.OrderBook{}, fmt.Errorf("decode order book: %w", err)
	}

	out := common.OrderBook{VenueID: VenueID, Symbol: symbol}
	for _, lvl := range book.Bids {
		level, err := lvl.decode()
		if err != nil {
			return common.OrderBook{}, fmt.Errorf("decode bid level: %w", err)
		}
		out.Bids = append(out.Bids, level)
	}
	for _, lvl := range book.Asks {
		level, err := lvl.decode()
		if err != nil {
			return common.OrderBook{}, fmt.Errorf("decode ask level: %w", err)
		}
		out.Asks = append(out.Asks, level)
	}
	return out, nil
}

// GetOrderStatus fetches one order by number.
func (c *Client) GetOrderStatus(ctx context.Context, venueOrderID string) (common.Order, error) {
	params := url.Values{}
	params.Set("orderNumber", venueOrderID)
	body, err := c.trading(ctx, "returnOrderStatus", params, false)
	if err != nil {
		return common.Order{}, err
	}

	var resp struct {
		Success int                        `json:"success"`
		Result  map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode order status: %w", err)
	}
	if resp.Success != 1 {
		if msg, ok := resp.Result["error"]; ok {
			var s string
			_ = json.Unmarshal(msg, &s)
			return common.Order{}, classify(s, false)
		}
		return common.Order{}, fmt.Errorf("poloniex: order status request failed")
	}

	raw, ok := resp.Result[venueOrderID]
	if !ok {
		return common.Order{}, fmt.Errorf("%w: order %s", common.ErrOrderNotFound, venueOrderID)
	}

	var row struct {
		CurrencyPair string          `json:"currencyPair"`
		Rate         decimal.Decimal `json:"rate"`
		Amount       decimal.Decimal `json:"amount"`
		Type         string          `json:"type"`
		Status       string          `json:"status"`
		Date         string          `json:"date"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return common.Order{}, fmt.Errorf("decode order row: %w", err)
	}

	symbol, err := fromVenueSymbol(row.CurrencyPair)
	if err != nil {
		return common.Order{}, err
	}
	status, err := c.Statuses().Normalize(VenueID, row.Status)
	if err != nil {
		return common.Order{}, err
	}
	return common.Order{
		Operation: common.Operation{
			Symbol: symbol,
			Side:   toSide(row.Type),
			Price:  row.Rate,
			Qty:    row.Amount,
		},
		VenueID:      VenueID,
		VenueOrderID: venueOrderID,
		Type:         common.OrderTypeLimit,
		CreatedAt:    parseDate(row.Date),
		Status:       status,
	}, nil
}

// GetOrderHistory returns filled orders in [start, end] using the venue's
// native time bounds (unix seconds).
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, start, end time.Time) ([]common.Order, error) {
	pair, err := toVenueSymbol(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("currencyPair", pair)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("limit", "100")
	body, err := c.trading(ctx, "returnMyTradeHistory", params, false)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		OrderNumber string          `json:"orderNumber"`
		Rate        decimal.Decimal `json:"rate"`
		Amount      decimal.Decimal `json:"amount"`
		Type        string          `json:"type"`
		Date        string          `json:"date"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode trade history: %w", err)
	}

	orders := make([]common.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, common.Order{
			Operation: common.Operation{
				Symbol: symbol,
				Side:   toSide(row.Type),
				Price:  row.Rate,
				Qty:    row.Amount,
			},
			VenueID:      VenueID,
			VenueOrderID: row.OrderNumber,
			Type:         common.OrderTypeLimit,
			CreatedAt:    parseDate(row.Date),
			Status:       common.StatusFilled,
		})
	}
	return orders, nil
}

// GetOpenOrders returns open orders grouped by canonical symbol. The venue
// answers with a flat list for one pair and a pair-keyed table for "all".
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) (map[string][]common.Order, error) {
	pair := "all"
	if symbol != "" {
		var err error
		pair, err = toVenueSymbol(symbol)
		if err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Set("currencyPair", pair)
	body, err := c.trading(ctx, "returnOpenOrders", params, false)
	if err != nil {
		return nil, err
	}

	type openRow struct {
		OrderNumber string          `json:"orderNumber"`
		Type        string          `json:"type"`
		Rate        decimal.Decimal `json:"rate"`
		Amount      decimal.Decimal `json:"amount"`
		Date        string          `json:"date"`
	}

	grouped := make(map[string][]common.Order)
	appendRows := func(canonical string, rows []openRow) {
		for _, row := range rows {
			grouped[canonical] = append(grouped[canonical], common.Order{
				Operation: common.Operation{
					Symbol: canonical,
					Side:   toSide(row.Type),
					Price:  row.Rate,
					Qty:    row.Amount,
				},
				VenueID:      VenueID,
				VenueOrderID: row.OrderNumber,
				Type:         common.OrderTypeLimit,
				CreatedAt:    parseDate(row.Date),
				Status:       common.StatusNew,
			})
		}
	}

	if pair != "all" {
		var rows []openRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode open orders: %w", err)
		}
		appendRows(symbol, rows)
		return grouped, nil
	}

	var table map[string][]openRow
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("decode open orders table: %w", err)
	}
	for venuePair, rows := range table {
		if len(rows) == 0 {
			continue
		}
		canonical, err := fromVenueSymbol(venuePair)
		if err != nil {
			return nil, err
		}
		appendRows(canonical, rows)
	}
	return grouped, nil
}

func toSide(t string) common.Side {
	if strings.EqualFold(t, "sell") {
		return common.SideSell
	}
	return common.SideBuy
}

func parseDate(s string) int64 {
	if t, err := time.ParseInLocation(timeLayout, s, time.UTC); err == nil {
		return t.UnixMilli()
	}
	return time.Now().UnixMilli()
}
