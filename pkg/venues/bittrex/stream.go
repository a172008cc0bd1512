package bittrex

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

const hubName = "c2"

// Stream is the venue's authenticated order-delta feed. The wire multiplexes
// hub methods inside one websocket; order deltas arrive under the "uO" method
// as base64, raw-deflate compressed, key-minified JSON. Deltas carry the
// order's remaining quantity, so updates take the reconciler's cumulative
// path.
type Stream struct {
	client *Client
}

func (c *Client) Stream() common.Stream {
	return &Stream{client: c}
}

func (c *Client) streamURL() string {
	if c.cfg.StreamURL != "" {
		return c.cfg.StreamURL
	}
	return "wss://socket.bittrex.com/signalr"
}

// hubCall is one outbound hub invocation.
type hubCall struct {
	Hub    string `json:"H"`
	Method string `json:"M"`
	Args   []any  `json:"A"`
	ID     int    `json:"I"`
}

// hubFrame is one inbound websocket frame: either a call result (R) or a
// batch of hub messages (M).
type hubFrame struct {
	Result   json.RawMessage `json:"R"`
	CallID   string          `json:"I"`
	Messages []struct {
		Hub    string            `json:"H"`
		Method string            `json:"M"`
		Args   []json.RawMessage `json:"A"`
	} `json:"M"`
}

// authenticate performs the challenge/response handshake: fetch a challenge
// for the API key, sign it with HMAC-SHA512, send the signature back.
func (s *Stream) authenticate(conn *websocket.Conn) error {
	if s.client.cfg.APIKey == "" || s.client.cfg.APISecret == "" {
		return fmt.Errorf("bittrex stream: API key/secret required")
	}

	if err := conn.WriteJSON(hubCall{Hub: hubName, Method: "GetAuthContext", Args: []any{s.client.cfg.APIKey}, ID: 1}); err != nil {
		return fmt.Errorf("request auth context: %w", err)
	}

	challenge, err := awaitResult(conn, "1")
	if err != nil {
		return fmt.Errorf("auth context: %w", err)
	}
	var challengeStr string
	if err := json.Unmarshal(challenge, &challengeStr); err != nil {
		return fmt.Errorf("decode auth challenge: %w", err)
	}

	signature := sign(challengeStr, s.client.cfg.APISecret)
	if err := conn.WriteJSON(hubCall{Hub: hubName, Method: "Authenticate", Args: []any{s.client.cfg.APIKey, signature}, ID: 2}); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if _, err := awaitResult(conn, "2"); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

// awaitResult reads frames until the call result with the given id arrives.
func awaitResult(conn *websocket.Conn, callID string) (json.RawMessage, error) {
	deadline := time.Now().Add(15 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var frame hubFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.CallID == callID {
			return frame.Result, nil
		}
	}
}

// Subscribe dials the feed, authenticates, and emits one OrderUpdate per
// order delta. Malformed frames are logged and dropped; they never end the
// subscription.
func (s *Stream) Subscribe(ctx context.Context) (<-chan common.OrderUpdate, func(), error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.client.streamURL(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial bittrex stream: %v", common.ErrVenueUnreachable, err)
	}
	if err := s.authenticate(conn); err != nil {
		_ = conn.Close()
		return nil, nil, err
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
					log.Printf("bittrex stream read error: %v", err)
				}
				return
			}

			for _, update := range decodeFrame(msg) {
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, stop, nil
}

// orderDelta is the expanded shape of one "uO" payload.
type orderDelta struct {
	Type  int `json:"Type"`
	Order struct {
		OrderUuid         string          `json:"OrderUuid"`
		Exchange          string          `json:"Exchange"`
		OrderType         string          `json:"OrderType"`
		Quantity          decimal.Decimal `json:"Quantity"`
		QuantityRemaining decimal.Decimal `json:"QuantityRemaining"`
		Limit             decimal.Decimal `json:"Limit"`
		Opened            string          `json:"Opened"`
		Updated           string          `json:"Updated"`
		Closed            string          `json:"Closed"`
	} `json:"Order"`
}

// decodeFrame demultiplexes one websocket frame into order updates. Only the
// "uO" (order delta) hub method matters; everything else is ignored.
func decodeFrame(msg []byte) []common.OrderUpdate {
	var frame hubFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		log.Printf("bittrex stream: %v: %v", common.ErrDecode, err)
		return nil
	}

	var updates []common.OrderUpdate
	for _, m := range frame.Messages {
		if m.Method != "uO" || len(m.Args) == 0 {
			continue
		}
		var b64 string
		if err := json.Unmarshal(m.Args[0], &b64); err != nil {
			log.Printf("bittrex stream: %v: payload is not a string: %v", common.ErrDecode, err)
			continue
		}
		update, err := decodeOrderDelta(b64)
		if err != nil {
			log.Printf("bittrex stream: %v: %v", common.ErrDecode, err)
			continue
		}
		updates = append(updates, update)
	}
	return updates
}

// decodeOrderDelta runs the full payload pipeline:
// base64 -> raw deflate -> minified JSON -> key expansion -> typed delta.
func decodeOrderDelta(b64 string) (common.OrderUpdate, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return common.OrderUpdate{}, fmt.Errorf("base64: %w", err)
	}

	inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return common.OrderUpdate{}, fmt.Errorf("inflate: %w", err)
	}

	var minified any
	if err := json.Unmarshal(inflated, &minified); err != nil {
		return common.OrderUpdate{}, fmt.Errorf("minified json: %w", err)
	}

	expanded, err := json.Marshal(expandKeys(minified))
	if err != nil {
		return common.OrderUpdate{}, fmt.Errorf("re-encode: %w", err)
	}

	var delta orderDelta
	if err := json.Unmarshal(expanded, &delta); err != nil {
		return common.OrderUpdate{}, fmt.Errorf("order delta: %w", err)
	}
	if delta.Order.OrderUuid == "" {
		return common.OrderUpdate{}, fmt.Errorf("order delta without uuid")
	}

	return common.OrderUpdate{
		VenueID:      VenueID,
		VenueOrderID: delta.Order.OrderUuid,
		RawStatus:    strconv.Itoa(delta.Type),
		Price:        delta.Order.Limit,
		OriginalQty:  delta.Order.Quantity,
		Remaining:    delta.Order.QuantityRemaining,
		Timestamp:    deltaTimestamp(delta),
	}, nil
}

// deltaTimestamp picks the most specific venue-reported time on the delta.
func deltaTimestamp(d orderDelta) int64 {
	for _, s := range []string{d.Order.Closed, d.Order.Updated, d.Order.Opened} {
		if s == "" {
			continue
		}
		if t, err := time.ParseInLocation(timeLayout, s, time.UTC); err == nil {
			return t.UnixMilli()
		}
	}
	return time.Now().UnixMilli()
}
