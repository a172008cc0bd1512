package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

const exchangeInfoDoc = `{"symbols":[
	{"symbol":"ETHBTC","baseAsset":"ETH","quoteAsset":"BTC"},
	{"symbol":"LTCBTC","baseAsset":"LTC","quoteAsset":"BTC"}
]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   srv.URL,
	})
}

func TestSymbolMappingFromExchangeInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(exchangeInfoDoc))
	})
	ctx := context.Background()

	got, err := c.toVenueSymbol(ctx, "ETH_BTC")
	if err != nil {
		t.Fatalf("toVenueSymbol: %v", err)
	}
	if got != "ETHBTC" {
		t.Errorf("toVenueSymbol = %s, want ETHBTC", got)
	}

	back, err := c.fromVenueSymbol(ctx, "ETHBTC")
	if err != nil {
		t.Fatalf("fromVenueSymbol: %v", err)
	}
	if back != "ETH_BTC" {
		t.Errorf("fromVenueSymbol = %s, want ETH_BTC", back)
	}

	if _, err := c.toVenueSymbol(ctx, "DOGE_BTC"); !errors.Is(err, common.ErrUnknownSymbol) {
		t.Errorf("unknown symbol: got %v, want ErrUnknownSymbol", err)
	}
}

func TestVenueOrderIDRoundTrip(t *testing.T) {
	id := venueOrderID("ETH_BTC", 12345)
	if id != "ETH_BTC-12345" {
		t.Fatalf("venueOrderID = %s", id)
	}
	symbol, orderID, err := splitOrderID(id)
	if err != nil {
		t.Fatalf("splitOrderID: %v", err)
	}
	if symbol != "ETH_BTC" || orderID != "12345" {
		t.Errorf("split = %s / %s", symbol, orderID)
	}

	for _, bad := range []string{"", "-", "12345", "ETH_BTC-"} {
		if _, _, err := splitOrderID(bad); err == nil {
			t.Errorf("splitOrderID(%q) accepted malformed id", bad)
		}
	}
}

func TestSubmitOrderSignsAndEncodesID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			w.Write([]byte(exchangeInfoDoc))
		case "/api/v3/order":
			if got := r.Header.Get("X-MBX-APIKEY"); got != "test-key" {
				t.Errorf("api key header = %q", got)
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if r.PostForm.Get("signature") == "" {
				t.Error("request not signed")
			}
			if got := r.PostForm.Get("symbol"); got != "ETHBTC" {
				t.Errorf("symbol = %s, want ETHBTC", got)
			}
			if got := r.PostForm.Get("timeInForce"); got != "GTC" {
				t.Errorf("timeInForce = %s, want GTC", got)
			}
			w.Write([]byte(`{"symbol":"ETHBTC","orderId":4242,"status":"NEW","transactTime":1700000000000}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	ord, err := c.SubmitOrder(context.Background(), common.Operation{
		Symbol: "ETH_BTC",
		Side:   common.SideBuy,
		Price:  decimal.RequireFromString("0.0312345678"),
		Qty:    decimal.RequireFromString("1.5"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if ord.VenueOrderID != "ETH_BTC-4242" {
		t.Errorf("VenueOrderID = %s", ord.VenueOrderID)
	}
	if ord.Status != common.StatusNew {
		t.Errorf("Status = %s", ord.Status)
	}
	if !ord.Price.Equal(decimal.RequireFromString("0.031235")) {
		t.Errorf("Price = %s, want rounded to 6 places", ord.Price)
	}
}

func TestCancelUnknownOrderMapsToNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			w.Write([]byte(exchangeInfoDoc))
		case "/api/v3/order":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
		}
	})

	_, err := c.CancelOrder(context.Background(), common.Order{
		VenueID:      VenueID,
		VenueOrderID: "ETH_BTC-999",
	})
	if !errors.Is(err, common.ErrOrderNotFound) {
		t.Errorf("got %v, want ErrOrderNotFound", err)
	}
}

func TestStatusTableCoversVenueVocabulary(t *testing.T) {
	table := New(Config{}).Statuses()
	cases := map[string]common.Status{
		"NEW":              common.StatusNew,
		"PARTIALLY_FILLED": common.StatusPartiallyFilled,
		"FILLED":           common.StatusFilled,
		"CANCELED":         common.StatusCanceled,
		"REJECTED":         common.StatusCanceled,
		"EXPIRED":          common.StatusCanceled,
	}
	for raw, want := range cases {
		got, err := table.Normalize(VenueID, raw)
		if err != nil {
			t.Errorf("Normalize(%s): %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%s) = %s, want %s", raw, got, want)
		}
	}
	if _, err := table.Normalize(VenueID, "PENDING_CANCEL_WEIRD"); !errors.Is(err, common.ErrUnknownStatus) {
		t.Errorf("unmapped status: got %v, want ErrUnknownStatus", err)
	}
}
