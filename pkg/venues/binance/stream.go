package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

const keepAliveInterval = 30 * time.Minute

// Stream is the venue's user data stream. Binance already delivers discrete
// per-fill execution reports, so every update takes the reconciler's
// pass-through path.
type Stream struct {
	client *Client
}

func (c *Client) Stream() common.Stream {
	return &Stream{client: c}
}

// createListenKey opens a user data stream session.
func (c *Client) createListenKey(ctx context.Context) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("binance: API key required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v3/userDataStream", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrVenueUnreachable, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create listen key status %d", res.StatusCode)
	}

	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

// keepAliveListenKey extends the session's validity.
func (c *Client) keepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	endpoint := fmt.Sprintf("%s/api/v3/userDataStream?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("keep alive listen key status %d", res.StatusCode)
	}
	return nil
}

func (c *Client) streamURL(listenKey string) string {
	base := c.cfg.StreamURL
	if base == "" {
		base = (&url.URL{Scheme: "wss", Host: "stream.binance.com:9443"}).String()
	}
	return base + "/ws/" + listenKey
}

// Subscribe dials the user data stream and emits one OrderUpdate per trade
// execution or cancellation. Malformed frames are logged and skipped.
func (s *Stream) Subscribe(ctx context.Context) (<-chan common.OrderUpdate, func(), error) {
	listenKey, err := s.client.createListenKey(ctx)
	if err != nil {
		return nil, nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.client.streamURL(listenKey), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial binance stream: %v", common.ErrVenueUnreachable, err)
	}

	out := make(chan common.OrderUpdate, 100)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	// The listen key expires unless refreshed.
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := s.client.keepAliveListenKey(ctx, listenKey); err != nil {
					log.Printf("binance stream keepalive error: %v", err)
				}
			}
		}
	}()

	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return
				}
				select {
				case <-done:
				default:
					log.Printf("binance stream read error: %v", err)
				}
				return
			}
			update, ok := s.decode(ctx, msg)
			if !ok {
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// executionReport is the venue's order-update frame; keys are single letters
// on the wire.
type executionReport struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Side      string `json:"S"`
	ExecType  string `json:"x"`
	Status    string `json:"X"`
	OrderID   int64  `json:"i"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	LastQty   string `json:"l"`
	LastPrice string `json:"L"`
	TradeID   int64  `json:"t"`
	TradeTime int64  `json:"T"`
}

// decode turns one raw frame into an OrderUpdate. Frames other than trade
// executions and cancellations are ignored; undecodable ones are dropped with
// a log line, never propagated.
func (s *Stream) decode(ctx context.Context, msg []byte) (common.OrderUpdate, bool) {
	// The event type field is occasionally non-string; probe it first.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg, &probe); err != nil {
		log.Printf("binance stream: %v: %v", common.ErrDecode, err)
		return common.OrderUpdate{}, false
	}
	var eventType string
	if v, ok := probe["e"]; !ok || json.Unmarshal(v, &eventType) != nil {
		return common.OrderUpdate{}, false
	}
	if eventType != "executionReport" {
		return common.OrderUpdate{}, false
	}

	var rep executionReport
	if err := json.Unmarshal(msg, &rep); err != nil {
		log.Printf("binance stream: %v: execution report: %v", common.ErrDecode, err)
		return common.OrderUpdate{}, false
	}
	if rep.ExecType != "TRADE" && rep.ExecType != "CANCELED" && rep.ExecType != "EXPIRED" {
		return common.OrderUpdate{}, false
	}

	canonical, err := s.client.fromVenueSymbol(ctx, rep.Symbol)
	if err != nil {
		log.Printf("binance stream: unknown symbol %s: %v", rep.Symbol, err)
		return common.OrderUpdate{}, false
	}

	price := mustDecimal(rep.LastPrice)
	if price.IsZero() {
		price = mustDecimal(rep.Price)
	}
	ts := rep.TradeTime
	if ts == 0 {
		ts = rep.EventTime
	}
	update := common.OrderUpdate{
		VenueID:      VenueID,
		VenueOrderID: venueOrderID(canonical, rep.OrderID),
		RawStatus:    rep.Status,
		Price:        price,
		OriginalQty:  mustDecimal(rep.Qty),
		FillQty:      mustDecimal(rep.LastQty),
		Discrete:     true,
		Timestamp:    ts,
	}
	if rep.TradeID > 0 {
		update.TradeID = strconv.FormatInt(rep.TradeID, 10)
	}
	if rep.ExecType != "TRADE" {
		update.FillQty = decimal.Zero
	}
	return update, true
}
