package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

func ticker(venue, symbol, last string) common.Ticker {
	return common.Ticker{
		VenueID: venue,
		Symbol:  symbol,
		Last:    decimal.RequireFromString(last),
	}
}

func TestGetRespectsTTL(t *testing.T) {
	c := NewTickerCache(20 * time.Millisecond)
	c.Set(ticker("binance", "ETH_BTC", "0.031"))

	got, ok := c.Get("binance", "ETH_BTC")
	if !ok {
		t.Fatal("fresh entry missing")
	}
	if !got.Last.Equal(decimal.RequireFromString("0.031")) {
		t.Errorf("Last = %s", got.Last)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("binance", "ETH_BTC"); ok {
		t.Error("stale entry served as fresh")
	}

	// The raw entry survives the TTL until Cleanup.
	if _, age, ok := c.GetWithAge("binance", "ETH_BTC"); !ok || age < 20*time.Millisecond {
		t.Errorf("GetWithAge ok=%v age=%v", ok, age)
	}
}

func TestVenuesDoNotCollide(t *testing.T) {
	c := NewTickerCache(time.Minute)
	c.Set(ticker("binance", "ETH_BTC", "0.031"))
	c.Set(ticker("poloniex", "ETH_BTC", "0.032"))

	b, _ := c.Get("binance", "ETH_BTC")
	p, _ := c.Get("poloniex", "ETH_BTC")
	if b.Last.Equal(p.Last) {
		t.Error("per-venue entries collided")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	c.Delete("binance", "ETH_BTC")
	if _, ok := c.Get("binance", "ETH_BTC"); ok {
		t.Error("deleted entry still present")
	}
	if _, ok := c.Get("poloniex", "ETH_BTC"); !ok {
		t.Error("unrelated entry lost")
	}
}

func TestCleanupDropsOnlyOldEntries(t *testing.T) {
	c := NewTickerCache(time.Minute)
	for i := 0; i < 40; i++ {
		c.Set(ticker("binance", fmt.Sprintf("SYM%d_BTC", i), "0.01"))
	}
	time.Sleep(20 * time.Millisecond)
	c.Set(ticker("binance", "FRESH_BTC", "0.02"))

	removed := c.Cleanup(10 * time.Millisecond)
	if removed != 40 {
		t.Errorf("removed = %d, want 40", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
