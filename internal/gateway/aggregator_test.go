package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/router"
	"trading-gateway/pkg/venues/common"
	"trading-gateway/pkg/venues/emulator"
)

// failingConnector wraps the emulator and fails every call, for testing
// failure isolation across venues.
type failingConnector struct {
	*emulator.Client
	id string
}

func (f *failingConnector) ID() string { return f.id }

func (f *failingConnector) GetBalances(ctx context.Context) (common.Balances, error) {
	return nil, errors.New("venue down")
}

func (f *failingConnector) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return common.Ticker{}, common.ErrVenueUnreachable
}

func newTestAggregator() *Aggregator {
	healthy := emulator.New(emulator.Config{VenueID: "alpha", FillDelay: time.Hour})
	broken := &failingConnector{
		Client: emulator.New(emulator.Config{VenueID: "beta", FillDelay: time.Hour}),
		id:     "beta",
	}
	return New([]common.Connector{healthy, broken})
}

func TestFanOutReturnsEntryPerVenue(t *testing.T) {
	agg := newTestAggregator()

	env := agg.GetBalances(context.Background())
	if len(env) != 2 {
		t.Fatalf("envelope has %d entries, want 2", len(env))
	}
	if !env["alpha"].Success {
		t.Errorf("alpha failed: %s", env["alpha"].Error)
	}
	if env["beta"].Success {
		t.Error("beta should have failed")
	}
	if env["beta"].Error == "" {
		t.Error("beta failure carries no error message")
	}
}

func TestFailureIsolation(t *testing.T) {
	agg := newTestAggregator()

	env, err := agg.GetTicker(context.Background(), "ETH_BTC")
	if err != nil {
		t.Fatalf("GetTicker: %v", err)
	}
	if !env["alpha"].Success {
		t.Errorf("alpha dragged down by beta: %s", env["alpha"].Error)
	}
	if env["beta"].Success {
		t.Error("beta unreachable but reported success")
	}
}

func TestInvalidArgumentFailsWholeCall(t *testing.T) {
	agg := newTestAggregator()
	ctx := context.Background()

	if _, err := agg.GetTicker(ctx, ""); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("empty symbol: got %v, want ErrInvalidArgument", err)
	}
	if _, err := agg.GetOrderStatus(ctx, nil); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("nil ids: got %v, want ErrInvalidArgument", err)
	}
	if _, err := agg.CancelOrders(ctx, nil); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("no orders: got %v, want ErrInvalidArgument", err)
	}
	if _, err := agg.SubmitRouted(ctx, common.SideBuy, nil); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("no fragments: got %v, want ErrInvalidArgument", err)
	}
	if _, err := agg.SubmitRouted(ctx, common.Side("HOLD"), []router.Fragment{{VenueID: "alpha"}}); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("bad side: got %v, want ErrInvalidArgument", err)
	}
}

func TestSubmitRoutedUnknownVenueStaysInEnvelope(t *testing.T) {
	agg := newTestAggregator()

	frags := []router.Fragment{
		{Symbol: "ETH_BTC", VenueID: "alpha", Price: decimal.RequireFromString("0.03"), Qty: decimal.NewFromInt(1)},
		{Symbol: "ETH_BTC", VenueID: "gamma", Price: decimal.RequireFromString("0.03"), Qty: decimal.NewFromInt(1)},
	}
	env, err := agg.SubmitRouted(context.Background(), common.SideBuy, frags)
	if err != nil {
		t.Fatalf("SubmitRouted: %v", err)
	}
	if !env["alpha"].Success {
		t.Errorf("alpha failed: %s", env["alpha"].Error)
	}
	if env["gamma"].Success {
		t.Error("unconfigured venue reported success")
	}
}

func TestGetOrderStatusContactsOnlyNamedVenues(t *testing.T) {
	agg := newTestAggregator()

	env, err := agg.GetOrderStatus(context.Background(), map[string]string{"alpha": "missing-id"})
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if len(env) != 1 {
		t.Fatalf("envelope has %d entries, want 1", len(env))
	}
	entry := env["alpha"]
	if entry.Success {
		t.Error("missing order reported success")
	}
}
