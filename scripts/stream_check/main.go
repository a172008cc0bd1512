package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"trading-gateway/internal/events"
	"trading-gateway/internal/gateway"
	"trading-gateway/internal/reconcile"
	"trading-gateway/internal/stream"
	"trading-gateway/pkg/config"
)

// This script tests the venue fill streams end-to-end:
// - builds connectors from the roster
// - starts the stream supervisor with the real reconciler
// - logs every reconciled trade and every rejected update
//
// Usage:
//   go run ./scripts/stream_check
//
// Place or cancel a small order on a configured venue to see trades come
// through. The script stops on interrupt or after 10 minutes.

func main() {
	log.Println("=== Stream check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	venues, err := config.LoadVenues(cfg.VenuesPath)
	if err != nil {
		log.Fatalf("venue roster error: %v", err)
	}

	connectors, err := gateway.BuildConnectors(venues)
	if err != nil {
		log.Fatalf("build connectors: %v", err)
	}
	agg := gateway.New(connectors)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	rejected, unsubRejected := bus.Subscribe(events.EventUpdateRejected, 100)
	defer unsubRejected()
	go func() {
		for msg := range rejected {
			log.Printf("[EVENT] update rejected: %#v", msg)
		}
	}()

	rec := reconcile.New(agg.StatusTables())
	sup := stream.New(connectors, rec, bus, cfg.ResubscribeInterval, cfg.FillQueueSize)
	sup.Start(ctx)

	go func() {
		for trade := range sup.Trades() {
			log.Printf("[TRADE] %s %s qty=%s price=%s status=%s",
				trade.VenueID, trade.VenueOrderID, trade.Qty, trade.Price, trade.Status)
		}
	}()

	log.Println("Streams started. Trade on a configured venue to see fills.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	select {
	case <-sigCh:
		log.Println("Interrupt received, shutting down stream check...")
	case <-time.After(10 * time.Minute):
		log.Println("Timeout reached, stopping stream check...")
	}

	cancel()
	sup.Stop()
	log.Println("=== Stream check finished ===")
}
