package poloniex

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"trading-gateway/pkg/venues/common"
)

// accountChannel is the private account-notification channel.
const accountChannel = 1000

// Stream consumes the account notification channel. Order lifecycle arrives
// as "n" (new order, carries the original amount) and "o" (amount update,
// carries the remaining amount) events. The remaining amounts are cumulative
// snapshots, so "t" trade events are skipped here: emitting both would count
// every fill twice.
type Stream struct {
	client *Client
}

func (c *Client) Stream() common.Stream { return &Stream{client: c} }

type subscribeCommand struct {
	Command string `json:"command"`
	Channel int    `json:"channel"`
	Key     string `json:"key"`
	Payload string `json:"payload"`
	Sign    string `json:"sign"`
}

// Subscribe dials the websocket, authenticates the account channel and
// forwards decoded updates until ctx is done or the read loop fails.
func (s *Stream) Subscribe(ctx context.Context) (<-chan common.OrderUpdate, func(), error) {
	streamURL := s.client.cfg.StreamURL
	if streamURL == "" {
		streamURL = "wss://api2.poloniex.com"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial %s: %v", common.ErrVenueUnreachable, streamURL, err)
	}

	payload := "nonce=" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	cmd := subscribeCommand{
		Command: "subscribe",
		Channel: accountChannel,
		Key:     s.client.cfg.APIKey,
		Payload: payload,
		Sign:    sign(payload, s.client.cfg.APISecret),
	}
	if err := conn.WriteJSON(cmd); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("subscribe account channel: %w", err)
	}

	updates := make(chan common.OrderUpdate, 64)
	done := make(chan struct{})
	stop := func() {
		select {
		case <-done:
		default:
			close(done)
		}
		conn.Close()
	}

	go func() {
		defer close(updates)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
				case <-ctx.Done():
				default:
					log.Printf("poloniex stream: read: %v", err)
				}
				return
			}
			for _, u := range decodeFrame(msg) {
				select {
				case updates <- u:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return updates, stop, nil
}

// decodeFrame parses one wire frame. Frames are JSON arrays:
// [channel, seq, [events...]]; heartbeats and subscription acks have no
// event list and are dropped.
func decodeFrame(msg []byte) []common.OrderUpdate {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 3 {
		return nil
	}
	var channel int
	if err := json.Unmarshal(frame[0], &channel); err != nil || channel != accountChannel {
		return nil
	}

	var events [][]json.RawMessage
	if err := json.Unmarshal(frame[2], &events); err != nil {
		return nil
	}

	var out []common.OrderUpdate
	for _, ev := range events {
		if len(ev) == 0 {
			continue
		}
		var kind string
		if err := json.Unmarshal(ev[0], &kind); err != nil {
			continue
		}
		switch kind {
		case "n":
			if u, ok := decodeNewOrder(ev); ok {
				out = append(out, u)
			}
		case "o":
			if u, ok := decodeAmountUpdate(ev); ok {
				out = append(out, u)
			}
		}
	}
	return out
}

// decodeNewOrder handles "n" events:
// ["n", pairID, orderNumber, orderType, rate, amount, date, originalAmount, ...]
func decodeNewOrder(ev []json.RawMessage) (common.OrderUpdate, bool) {
	if len(ev) < 6 {
		return common.OrderUpdate{}, false
	}
	orderNumber, ok := rawString(ev[2])
	if !ok {
		return common.OrderUpdate{}, false
	}
	price, err := rawDecimal(ev[4])
	if err != nil {
		return common.OrderUpdate{}, false
	}
	amount, err := rawDecimal(ev[5])
	if err != nil {
		return common.OrderUpdate{}, false
	}

	original := amount
	if len(ev) >= 8 {
		if d, err := rawDecimal(ev[7]); err == nil && !d.IsZero() {
			original = d
		}
	}

	return common.OrderUpdate{
		VenueID:      VenueID,
		VenueOrderID: orderNumber,
		RawStatus:    "Open",
		Price:        price,
		OriginalQty:  original,
		Remaining:    amount,
		Timestamp:    time.Now().UnixMilli(),
	}, true
}

// decodeAmountUpdate handles "o" events:
// ["o", orderNumber, newAmount, updateType, ...]
// updateType is "f" (fill), "s" (self trade) or "c" (cancel).
func decodeAmountUpdate(ev []json.RawMessage) (common.OrderUpdate, bool) {
	if len(ev) < 4 {
		return common.OrderUpdate{}, false
	}
	orderNumber, ok := rawString(ev[1])
	if !ok {
		return common.OrderUpdate{}, false
	}
	remaining, err := rawDecimal(ev[2])
	if err != nil {
		return common.OrderUpdate{}, false
	}
	updateType, _ := rawString(ev[3])

	raw := "Partially filled"
	switch {
	case updateType == "c":
		raw = "Canceled"
	case remaining.IsZero():
		raw = "Filled"
	}

	return common.OrderUpdate{
		VenueID:      VenueID,
		VenueOrderID: orderNumber,
		RawStatus:    raw,
		Remaining:    remaining,
		Timestamp:    time.Now().UnixMilli(),
	}, true
}

// rawString accepts both JSON strings and bare numbers; the feed encodes
// order numbers either way depending on the event.
func rawString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
