package main

import (
	"context"
	"log"
	"os"
	"time"

	"trading-gateway/internal/gateway"
	"trading-gateway/pkg/config"
	"trading-gateway/pkg/venues/common"
)

// venue_check/main.go
//
// Quick probe of every venue in the roster using only read APIs, so it is
// safe to run against live accounts.
//
// Usage:
//
//   go run ./scripts/venue_check
//
// Environment (same as the main binary):
//   VENUES_PATH        roster file, default ./venues.yaml
//   CHECK_SYMBOL       canonical symbol to probe, default ETH_BTC
//   CREDENTIAL_KEY     only needed when the roster carries sealed secrets

func main() {
	log.Println("=== Venue check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	venues, err := config.LoadVenues(cfg.VenuesPath)
	if err != nil {
		log.Fatalf("venue roster error: %v", err)
	}

	symbol := getenv("CHECK_SYMBOL", "ETH_BTC")
	log.Printf("Config: roster=%s symbol=%s venues=%d", cfg.VenuesPath, symbol, len(venues))

	connectors, err := gateway.BuildConnectors(venues)
	if err != nil {
		log.Fatalf("build connectors: %v", err)
	}

	for _, conn := range connectors {
		checkVenue(conn, symbol)
	}

	log.Println("=== Venue check finished ===")
}

func checkVenue(conn common.Connector, symbol string) {
	id := conn.ID()
	log.Printf("---- [%s] Checking venue ----", id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	balances, err := conn.GetBalances(ctx)
	if err != nil {
		log.Printf("[%s] GetBalances error: %v", id, err)
	} else {
		log.Printf("[%s] Non-zero balances: %d", id, len(balances))
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	ticker, err := conn.GetTicker(ctx2, symbol)
	if err != nil {
		log.Printf("[%s] GetTicker error: %v", id, err)
	} else {
		log.Printf("[%s] %s last=%s bid=%s ask=%s", id, symbol, ticker.Last, ticker.Bid, ticker.Ask)
	}

	ctx3, cancel3 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel3()
	book, err := conn.GetOrderBook(ctx3, symbol)
	if err != nil {
		log.Printf("[%s] GetOrderBook error: %v", id, err)
	} else {
		log.Printf("[%s] Book depth bids=%d asks=%d", id, len(book.Bids), len(book.Asks))
	}

	ctx4, cancel4 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel4()
	open, err := conn.GetOpenOrders(ctx4, "")
	if err != nil {
		log.Printf("[%s] GetOpenOrders error: %v", id, err)
	} else {
		total := 0
		for _, orders := range open {
			total += len(orders)
		}
		log.Printf("[%s] Open orders: %d across %d symbols", id, total, len(open))
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
