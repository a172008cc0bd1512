package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trading-gateway/internal/api"
	"trading-gateway/internal/events"
	"trading-gateway/internal/gateway"
	"trading-gateway/internal/monitor"
	"trading-gateway/internal/persistence"
	"trading-gateway/internal/reconcile"
	"trading-gateway/internal/stream"
	"trading-gateway/pkg/config"
	"trading-gateway/pkg/db"
	"trading-gateway/pkg/router"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	venues, err := config.LoadVenues(cfg.VenuesPath)
	if err != nil {
		log.Fatalf("load venue roster: %v", err)
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.Migrate(database.DB); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	queries := db.NewQueries(database.DB)

	connectors, err := gateway.BuildConnectors(venues)
	if err != nil {
		log.Fatalf("build connectors: %v", err)
	}
	agg := gateway.New(connectors)

	venueIDs := make([]string, 0, len(connectors))
	for _, c := range connectors {
		venueIDs = append(venueIDs, c.ID())
	}
	log.Printf("gateway serving venues %v on port %s", venueIDs, cfg.Port)

	// Fill streams: raw venue updates reconciled into discrete trades.
	rec := reconcile.New(agg.StatusTables())
	sup := stream.New(connectors, rec, bus, cfg.ResubscribeInterval, cfg.FillQueueSize)
	sup.Start(ctx)

	collector := monitor.NewCollector()
	collector.Watch(ctx, bus)

	// Persist reconciled trades through the batch writer; this drain
	// finishes only after the supervisor has stopped and the queue is
	// closed.
	writer := persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond)
	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for trade := range sup.Trades() {
			writer.WriteTrade(trade)
			if trade.Status.Terminal() {
				writer.WriteOrderStatus(trade.VenueID, trade.VenueOrderID, trade.Status, time.Now().UnixMilli())
			}
		}
	}()

	var routeClient *router.Client
	if cfg.RouterURL != "" {
		routeClient = router.New(cfg.RouterURL, cfg.RouterKey)
		log.Printf("order router enabled at %s", cfg.RouterURL)
	}

	server := api.NewServer(agg, bus, queries, routeClient, sup,
		api.SystemMeta{Venues: venueIDs, Version: buildVersion},
		api.Options{
			RateLimitPerSec: cfg.RateLimitPerSec,
			RateLimitBurst:  cfg.RateLimitBurst,
			JWTSecret:       cfg.JWTSecret,
			RequireAuth:     cfg.RequireAuth,
			TickerTTL:       cfg.TickerCacheTTL,
			Metrics:         collector,
		})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}

	// Stop venue sessions first so no update arrives after the trade
	// drain exits.
	cancel()
	sup.Stop()
	drained.Wait()
	if err := writer.Close(); err != nil {
		log.Printf("close batch writer: %v", err)
	}

	if dropped := sup.Dropped(); dropped > 0 {
		log.Printf("dropped %d trades under backpressure this run", dropped)
	}
	log.Println("gateway stopped")
}
