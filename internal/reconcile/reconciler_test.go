package reconcile

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

var testTables = map[string]common.StatusTable{
	"venuex": {
		"open":     common.StatusNew,
		"partial":  common.StatusPartiallyFilled,
		"done":     common.StatusFilled,
		"canceled": common.StatusCanceled,
	},
}

func snapshot(orderID, rawStatus string, original, remaining int64) common.OrderUpdate {
	return common.OrderUpdate{
		VenueID:      "venuex",
		VenueOrderID: orderID,
		RawStatus:    rawStatus,
		Price:        decimal.NewFromInt(100),
		OriginalQty:  decimal.NewFromInt(original),
		Remaining:    decimal.NewFromInt(remaining),
		Timestamp:    1700000000000,
	}
}

func TestCumulativeSnapshotDeltas(t *testing.T) {
	r := New(testTables)

	steps := []struct {
		remaining int64
		rawStatus string
		wantEmit  bool
		wantQty   int64
	}{
		{10, "open", false, 0}, // opening snapshot, nothing filled yet
		{7, "partial", true, 3},
		{7, "partial", false, 0}, // duplicate frame
		{3, "partial", true, 4},
		{0, "done", true, 3},
	}

	for i, step := range steps {
		trade, emit, err := r.Apply(snapshot("ord-1", step.rawStatus, 10, step.remaining))
		if err != nil {
			t.Fatalf("step %d: Apply error: %v", i, err)
		}
		if emit != step.wantEmit {
			t.Fatalf("step %d: emit=%v, expected %v", i, emit, step.wantEmit)
		}
		if emit && !trade.Qty.Equal(decimal.NewFromInt(step.wantQty)) {
			t.Fatalf("step %d: qty=%s, expected %d", i, trade.Qty, step.wantQty)
		}
	}

	if n := r.TrackedOrders(); n != 0 {
		t.Fatalf("state should be empty after full fill, tracking %d orders", n)
	}
}

func TestPartialThenFilledScenario(t *testing.T) {
	r := New(testTables)

	// Open order of qty 5; the venue pushes remaining [5, 2, 0].
	if _, emit, err := r.Apply(snapshot("ord-x", "open", 5, 5)); err != nil || emit {
		t.Fatalf("opening snapshot: emit=%v err=%v, expected no trade", emit, err)
	}

	trade, emit, err := r.Apply(snapshot("ord-x", "partial", 5, 2))
	if err != nil || !emit {
		t.Fatalf("second snapshot: emit=%v err=%v", emit, err)
	}
	if !trade.Qty.Equal(decimal.NewFromInt(3)) || trade.Status != common.StatusPartiallyFilled {
		t.Fatalf("second snapshot: qty=%s status=%s, expected 3 PARTIALLY_FILLED", trade.Qty, trade.Status)
	}

	trade, emit, err = r.Apply(snapshot("ord-x", "done", 5, 0))
	if err != nil || !emit {
		t.Fatalf("final snapshot: emit=%v err=%v", emit, err)
	}
	if !trade.Qty.Equal(decimal.NewFromInt(2)) || trade.Status != common.StatusFilled {
		t.Fatalf("final snapshot: qty=%s status=%s, expected 2 FILLED", trade.Qty, trade.Status)
	}

	if n := r.TrackedOrders(); n != 0 {
		t.Fatalf("reconciliation state not evicted, tracking %d orders", n)
	}
}

func TestCancellationEmitsZeroQtyAndEvicts(t *testing.T) {
	r := New(testTables)

	if _, _, err := r.Apply(snapshot("ord-c", "open", 8, 8)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := r.Apply(snapshot("ord-c", "partial", 8, 6)); err != nil {
		t.Fatalf("partial: %v", err)
	}

	trade, emit, err := r.Apply(snapshot("ord-c", "canceled", 8, 6))
	if err != nil || !emit {
		t.Fatalf("cancel: emit=%v err=%v", emit, err)
	}
	if !trade.Qty.IsZero() {
		t.Fatalf("canceled trade qty=%s, expected 0", trade.Qty)
	}
	if trade.Status != common.StatusCanceled {
		t.Fatalf("canceled trade status=%s", trade.Status)
	}
	if n := r.TrackedOrders(); n != 0 {
		t.Fatalf("cancellation must evict state, tracking %d orders", n)
	}
}

func TestNegativeDeltaRejected(t *testing.T) {
	r := New(testTables)

	if _, _, err := r.Apply(snapshot("ord-n", "partial", 10, 4)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Remaining rising from 4 back to 9 is an out-of-order frame.
	_, emit, err := r.Apply(snapshot("ord-n", "partial", 10, 9))
	if !errors.Is(err, common.ErrOutOfOrderUpdate) {
		t.Fatalf("expected ErrOutOfOrderUpdate, got %v", err)
	}
	if emit {
		t.Fatal("out-of-order update must not emit a trade")
	}

	// State is untouched: the next good snapshot still deltas against 4.
	trade, emit, err := r.Apply(snapshot("ord-n", "done", 10, 0))
	if err != nil || !emit {
		t.Fatalf("follow-up: emit=%v err=%v", emit, err)
	}
	if !trade.Qty.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("follow-up qty=%s, expected 4", trade.Qty)
	}
}

func TestDiscreteFillBypassesState(t *testing.T) {
	r := New(testTables)

	u := common.OrderUpdate{
		VenueID:      "venuex",
		VenueOrderID: "ord-d",
		RawStatus:    "partial",
		TradeID:      "t-1",
		Price:        decimal.RequireFromString("0.031"),
		FillQty:      decimal.RequireFromString("1.5"),
		Discrete:     true,
		Timestamp:    1700000000123,
	}
	trade, emit, err := r.Apply(u)
	if err != nil || !emit {
		t.Fatalf("discrete: emit=%v err=%v", emit, err)
	}
	if !trade.Qty.Equal(u.FillQty) || trade.TradeID != "t-1" || trade.Timestamp != u.Timestamp {
		t.Fatalf("discrete trade mismatch: %+v", trade)
	}
	if n := r.TrackedOrders(); n != 0 {
		t.Fatalf("discrete fills must not create state, tracking %d orders", n)
	}
}

func TestUnmappedStatusRejected(t *testing.T) {
	r := New(testTables)

	_, emit, err := r.Apply(snapshot("ord-u", "weird", 1, 1))
	if !errors.Is(err, common.ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	if emit {
		t.Fatal("unmapped status must not emit a trade")
	}
}

func TestConcurrentOrdersAreIndependent(t *testing.T) {
	r := New(testTables)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			r.Apply(snapshot(id, "open", 10, 10))
			r.Apply(snapshot(id, "partial", 10, 5))
			r.Apply(snapshot(id, "done", 10, 0))
		}(i)
	}
	wg.Wait()

	if n := r.TrackedOrders(); n != 0 {
		t.Fatalf("all orders filled, still tracking %d", n)
	}
}
