package poloniex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

func TestSymbolMappingIsQuoteUnderscoreBase(t *testing.T) {
	got, err := toVenueSymbol("ETH_BTC")
	if err != nil {
		t.Fatalf("toVenueSymbol: %v", err)
	}
	if got != "BTC_ETH" {
		t.Errorf("toVenueSymbol = %s, want BTC_ETH", got)
	}

	back, err := fromVenueSymbol("BTC_ETH")
	if err != nil {
		t.Fatalf("fromVenueSymbol: %v", err)
	}
	if back != "ETH_BTC" {
		t.Errorf("fromVenueSymbol = %s, want ETH_BTC", back)
	}

	if _, err := toVenueSymbol("ETHBTC"); !errors.Is(err, common.ErrUnknownSymbol) {
		t.Errorf("got %v, want ErrUnknownSymbol", err)
	}
}

func TestSubmitOrderSignsTradingRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Key") != "k" {
			t.Errorf("Key header = %q", r.Header.Get("Key"))
		}
		if r.Header.Get("Sign") == "" {
			t.Error("request not signed")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("command"); got != "sell" {
			t.Errorf("command = %s, want sell", got)
		}
		if got := r.PostForm.Get("currencyPair"); got != "BTC_ETH" {
			t.Errorf("currencyPair = %s, want BTC_ETH", got)
		}
		if r.PostForm.Get("nonce") == "" {
			t.Error("nonce missing")
		}
		w.Write([]byte(`{"orderNumber":"514845991795"}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", APISecret: "s", TradeURL: srv.URL})
	ord, err := c.SubmitOrder(context.Background(), common.Operation{
		Symbol: "ETH_BTC",
		Side:   common.SideSell,
		Price:  decimal.RequireFromString("0.031"),
		Qty:    decimal.RequireFromString("2"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if ord.VenueOrderID != "514845991795" {
		t.Errorf("VenueOrderID = %s", ord.VenueOrderID)
	}
	if ord.Status != common.StatusNew {
		t.Errorf("Status = %s", ord.Status)
	}
}

func TestCancelInvalidOrderMapsToNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Invalid order number, or you are not the person who placed the order."}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", APISecret: "s", TradeURL: srv.URL})
	_, err := c.CancelOrder(context.Background(), common.Order{VenueOrderID: "123"})
	if !errors.Is(err, common.ErrOrderNotFound) {
		t.Errorf("got %v, want ErrOrderNotFound", err)
	}
}

func TestGetBalancesDropsZeroEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BTC":"1.50000000","ETH":"0.00000000","LTC":"0.25000000"}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", APISecret: "s", TradeURL: srv.URL})
	balances, err := c.GetBalances(context.Background())
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("balances = %v, want 2 nonzero entries", balances)
	}
	if _, ok := balances["ETH"]; ok {
		t.Error("zero ETH balance should be dropped")
	}
	if !balances["BTC"].Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("BTC = %s", balances["BTC"])
	}
}

func TestGetTickerSelectsPairFromTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("command"); got != "returnTicker" {
			t.Errorf("command = %s", got)
		}
		w.Write([]byte(`{
			"BTC_ETH":{"last":"0.0310","lowestAsk":"0.0312","highestBid":"0.0309"},
			"BTC_LTC":{"last":"0.0040","lowestAsk":"0.0041","highestBid":"0.0039"}
		}`))
	}))
	defer srv.Close()

	c := New(Config{PublicURL: srv.URL})
	ticker, err := c.GetTicker(context.Background(), "ETH_BTC")
	if err != nil {
		t.Fatalf("GetTicker: %v", err)
	}
	if ticker.Symbol != "ETH_BTC" || ticker.VenueID != VenueID {
		t.Errorf("identity = %s/%s", ticker.VenueID, ticker.Symbol)
	}
	if !ticker.Last.Equal(decimal.RequireFromString("0.031")) {
		t.Errorf("Last = %s", ticker.Last)
	}

	if _, err := c.GetTicker(context.Background(), "DOGE_BTC"); !errors.Is(err, common.ErrUnknownSymbol) {
		t.Errorf("missing pair: got %v, want ErrUnknownSymbol", err)
	}
}
