package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/db"
	"trading-gateway/pkg/venues/common"
)

func newTestDB(t *testing.T) (*sql.DB, *db.Queries) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database.DB, db.NewQueries(database.DB)
}

func trade(orderID string, qty int64) common.Trade {
	return common.Trade{
		VenueID:      "binance",
		VenueOrderID: orderID,
		Price:        decimal.RequireFromString("0.031"),
		Qty:          decimal.NewFromInt(qty),
		Status:       common.StatusPartiallyFilled,
		Timestamp:    time.Now().UnixMilli(),
	}
}

func TestFlushWritesBufferedTrades(t *testing.T) {
	conn, queries := newTestDB(t)
	bw := NewBatchWriter(conn, 100, time.Hour)
	defer bw.Close()

	bw.WriteTrade(trade("ord-1", 1))
	bw.WriteTrade(trade("ord-1", 2))
	if bw.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", bw.Pending())
	}

	if err := bw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if bw.Pending() != 0 {
		t.Errorf("Pending = %d after flush", bw.Pending())
	}

	trades, err := queries.ListTradesByOrder(context.Background(), "binance", "ord-1")
	if err != nil {
		t.Fatalf("ListTradesByOrder: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("stored %d trades, want 2", len(trades))
	}

	m := bw.GetMetrics()
	if m.TotalWrites != 2 || m.TotalBatches != 1 || m.TotalErrors != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestFullBufferTriggersFlush(t *testing.T) {
	conn, queries := newTestDB(t)
	bw := NewBatchWriter(conn, 2, time.Hour)
	defer bw.Close()

	bw.WriteTrade(trade("ord-2", 1))
	bw.WriteTrade(trade("ord-2", 2))

	trades, err := queries.ListTradesByOrder(context.Background(), "binance", "ord-2")
	if err != nil {
		t.Fatalf("ListTradesByOrder: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("stored %d trades, want auto-flush at buffer size", len(trades))
	}
}

func TestCloseFlushesRemainder(t *testing.T) {
	conn, queries := newTestDB(t)
	bw := NewBatchWriter(conn, 100, time.Hour)

	now := time.Now().UnixMilli()
	ord := common.Order{
		Operation: common.Operation{
			Symbol: "ETH_BTC",
			Side:   common.SideBuy,
			Price:  decimal.RequireFromString("0.031"),
			Qty:    decimal.NewFromInt(3),
		},
		VenueID:      "binance",
		VenueOrderID: "ord-3",
		Type:         common.OrderTypeLimit,
		CreatedAt:    now,
		Status:       common.StatusNew,
	}
	if err := queries.UpsertOrder(context.Background(), ord, now); err != nil {
		t.Fatalf("UpsertOrder: %v", err)
	}

	bw.WriteTrade(trade("ord-3", 3))
	bw.WriteOrderStatus("binance", "ord-3", common.StatusFilled, now)
	if err := bw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stored, err := queries.GetOrder(context.Background(), "binance", "ord-3")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if stored.Status != common.StatusFilled {
		t.Errorf("status = %s, want FILLED after close", stored.Status)
	}
}
