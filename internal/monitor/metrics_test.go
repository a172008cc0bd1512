package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-gateway/internal/events"
	"trading-gateway/pkg/venues/common"
)

func TestCollectorTalliesBusEvents(t *testing.T) {
	bus := events.NewBus()
	c := NewCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Watch(ctx, bus)

	bus.Publish(events.EventStreamConnected, events.StreamStatus{VenueID: "binance"})
	bus.Publish(events.EventTrade, common.Trade{VenueID: "binance", Qty: decimal.NewFromInt(1)})
	bus.Publish(events.EventTrade, common.Trade{VenueID: "binance", Qty: decimal.NewFromInt(2)})
	bus.Publish(events.EventUpdateRejected, events.RejectedUpdate{VenueID: "binance", Reason: "out of order"})
	bus.Publish(events.EventStreamDisconnected, events.StreamStatus{VenueID: "binance", Reason: "eof"})

	deadline := time.After(2 * time.Second)
	for {
		snap := c.GetSnapshot()
		v := snap.Venues["binance"]
		if v.Trades == 2 && v.Rejected == 1 && v.Disconnects == 1 && !v.Connected {
			if v.LastEvent.IsZero() {
				t.Error("LastEvent not stamped")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("counters never converged: %+v", v)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCollectorRecordsRequests(t *testing.T) {
	c := NewCollector()
	c.RecordRequest(10 * time.Millisecond)
	c.RecordRequest(30 * time.Millisecond)

	snap := c.GetSnapshot()
	if snap.RequestCount != 2 {
		t.Errorf("RequestCount = %d, want 2", snap.RequestCount)
	}
	if snap.RequestLatency.Count != 2 {
		t.Errorf("latency Count = %d, want 2", snap.RequestLatency.Count)
	}
	if snap.RequestLatency.Max < snap.RequestLatency.Min {
		t.Error("max below min")
	}
}

func TestLatencyHistogramWindowAndStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{1, 2, 3, 4} {
		h.Record(v)
	}

	stats := h.Stats()
	if stats.Count != 3 {
		t.Fatalf("Count = %d, want window size 3", stats.Count)
	}
	if stats.Min != 2 || stats.Max != 4 {
		t.Errorf("min/max = %v/%v, want 2/4 after oldest evicted", stats.Min, stats.Max)
	}

	// Cached result must be reused until a new sample lands.
	again := h.Stats()
	if again != stats {
		t.Error("stats changed without new samples")
	}
	h.Record(10)
	if h.Stats().Max != 10 {
		t.Error("stats not recomputed after new sample")
	}
}
