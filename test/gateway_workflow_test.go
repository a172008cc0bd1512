package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-gateway/internal/api"
	"trading-gateway/internal/events"
	"trading-gateway/internal/gateway"
	"trading-gateway/internal/monitor"
	"trading-gateway/internal/persistence"
	"trading-gateway/internal/reconcile"
	"trading-gateway/internal/stream"
	"trading-gateway/pkg/db"
	"trading-gateway/pkg/venues/common"
	"trading-gateway/pkg/venues/emulator"
)

type stack struct {
	base    string
	queries *db.Queries
	sup     *stream.Supervisor
	cancel  context.CancelFunc
	drained *sync.WaitGroup
	writer  *persistence.BatchWriter
}

// newStack wires the whole gateway against two emulated venues, the same
// way the main binary does.
func newStack(t *testing.T) *stack {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database.DB); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	queries := db.NewQueries(database.DB)
	log.Println("✅ Database initialized")

	connectors := []common.Connector{
		emulator.New(emulator.Config{VenueID: "alpha", FillDelay: 10 * time.Millisecond, FillSteps: 2}),
		emulator.New(emulator.Config{VenueID: "beta", FillDelay: 10 * time.Millisecond, FillSteps: 2}),
	}
	agg := gateway.New(connectors)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := events.NewBus()
	collector := monitor.NewCollector()
	collector.Watch(ctx, bus)

	rec := reconcile.New(agg.StatusTables())
	sup := stream.New(connectors, rec, bus, time.Hour, 256)
	sup.Start(ctx)

	writer := persistence.NewBatchWriter(database.DB, 10, 20*time.Millisecond)
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
	log.Println("✅ Streams and persistence running")

	server := api.NewServer(agg, bus, queries, nil, sup,
		api.SystemMeta{Venues: []string{"alpha", "beta"}, Version: "test"},
		api.Options{
			RateLimitPerSec: 1000,
			RateLimitBurst:  1000,
			Metrics:         collector,
		})

	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)

	return &stack{
		base:    ts.URL,
		queries: queries,
		sup:     sup,
		cancel:  cancel,
		drained: &drained,
		writer:  writer,
	}
}

func (s *stack) post(t *testing.T, path string, body any) map[string]json.RawMessage {
	t.Helper()
	payload, _ := json.Marshal(body)
	resp, err := http.Post(s.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d", path, resp.StatusCode)
	}
	var out map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return out
}

func (s *stack) get(t *testing.T, path string, out any) {
	t.Helper()
	resp, err := http.Get(s.base + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

// TestGatewayWorkflow walks an order from HTTP submit through emulated
// fills to the persisted trade history.
func TestGatewayWorkflow(t *testing.T) {
	log.Println("🧪 Starting gateway workflow test...")
	s := newStack(t)

	var orderID string
	t.Run("SubmitOrder", func(t *testing.T) {
		env := s.post(t, "/api/orders", map[string]any{
			"symbol": "ETH_BTC",
			"side":   "BUY",
			"price":  "0.031",
			"qty":    "4",
			"venue":  "alpha",
		})
		var entry struct {
			Success bool `json:"success"`
			Result  struct {
				VenueOrderID string `json:"venueOrderId"`
			} `json:"result"`
		}
		if err := json.Unmarshal(env["alpha"], &entry); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		if !entry.Success || entry.Result.VenueOrderID == "" {
			t.Fatalf("submit not accepted: %s", env["alpha"])
		}
		orderID = entry.Result.VenueOrderID
		log.Printf("✅ Order accepted: %s", orderID)
	})

	t.Run("FillsReachStorage", func(t *testing.T) {
		deadline := time.After(5 * time.Second)
		for {
			trades, err := s.queries.ListTradesByOrder(context.Background(), "alpha", orderID)
			if err != nil {
				t.Fatalf("ListTradesByOrder: %v", err)
			}
			if len(trades) == 2 {
				total := decimal.Zero
				for _, tr := range trades {
					total = total.Add(tr.Qty)
				}
				if !total.Equal(decimal.NewFromInt(4)) {
					t.Fatalf("fill quantities sum to %s, want 4", total)
				}
				if trades[len(trades)-1].Status != common.StatusFilled {
					t.Fatalf("last trade status = %s", trades[len(trades)-1].Status)
				}
				log.Printf("✅ %d fills persisted", len(trades))
				return
			}
			select {
			case <-deadline:
				t.Fatalf("timed out with %d persisted trades", len(trades))
			case <-time.After(20 * time.Millisecond):
			}
		}
	})

	t.Run("OrderMarkedFilled", func(t *testing.T) {
		deadline := time.After(5 * time.Second)
		for {
			ord, err := s.queries.GetOrder(context.Background(), "alpha", orderID)
			if err != nil {
				t.Fatalf("GetOrder: %v", err)
			}
			if ord.Status == common.StatusFilled {
				log.Println("✅ Stored order transitioned to FILLED")
				return
			}
			select {
			case <-deadline:
				t.Fatalf("stored order stuck at %s", ord.Status)
			case <-time.After(20 * time.Millisecond):
			}
		}
	})

	t.Run("TradesServedOverHTTP", func(t *testing.T) {
		var out struct {
			Trades []struct {
				VenueID string `json:"venueId"`
			} `json:"trades"`
		}
		s.get(t, fmt.Sprintf("/api/trades/%s/%s", "alpha", orderID), &out)
		if len(out.Trades) != 2 {
			t.Fatalf("HTTP trades = %d, want 2", len(out.Trades))
		}
	})

	t.Run("StatusReportsVenueActivity", func(t *testing.T) {
		deadline := time.After(5 * time.Second)
		for {
			var status struct {
				Metrics struct {
					Venues map[string]struct {
						Trades    uint64 `json:"trades"`
						Connected bool   `json:"connected"`
					} `json:"venues"`
				} `json:"metrics"`
			}
			s.get(t, "/api/system/status", &status)
			alpha := status.Metrics.Venues["alpha"]
			if alpha.Trades >= 2 && alpha.Connected {
				log.Println("✅ Metrics reflect the fills")
				return
			}
			select {
			case <-deadline:
				t.Fatalf("metrics never converged: %+v", status.Metrics.Venues)
			case <-time.After(20 * time.Millisecond):
			}
		}
	})

	t.Run("CleanShutdown", func(t *testing.T) {
		s.cancel()
		s.sup.Stop()
		s.drained.Wait()
		if err := s.writer.Close(); err != nil {
			t.Fatalf("close writer: %v", err)
		}
		log.Println("✅ Clean shutdown")
	})

	log.Println("🎉 Workflow test passed")
}

// TestCancelWorkflow submits and immediately cancels across both venues.
func TestCancelWorkflow(t *testing.T) {
	s := newStack(t)

	env := s.post(t, "/api/orders", map[string]any{
		"symbol": "ETH_BTC",
		"side":   "SELL",
		"price":  "0.032",
		"qty":    "100",
		"venue":  "beta",
	})
	var entry struct {
		Success bool `json:"success"`
		Result  struct {
			VenueOrderID string `json:"venueOrderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(env["beta"], &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if !entry.Success {
		t.Fatalf("submit rejected: %s", env["beta"])
	}

	cancelEnv := s.post(t, "/api/orders/cancel", map[string]any{
		"orders": []map[string]string{{
			"venue":        "beta",
			"venueOrderId": entry.Result.VenueOrderID,
			"symbol":       "ETH_BTC",
		}},
	})
	var cancelEntry struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(cancelEnv["beta"], &cancelEntry); err != nil {
		t.Fatalf("decode cancel entry: %v", err)
	}
	if !cancelEntry.Success {
		t.Fatalf("cancel rejected: %s", cancelEnv["beta"])
	}

	deadline := time.After(5 * time.Second)
	for {
		ord, err := s.queries.GetOrder(context.Background(), "beta", entry.Result.VenueOrderID)
		if err != nil {
			t.Fatalf("GetOrder: %v", err)
		}
		if ord.Status == common.StatusCanceled {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("order stuck at %s", ord.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
