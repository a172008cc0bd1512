// Package reconcile turns raw venue order updates into discrete canonical
// trades. Some venues push cumulative remaining-quantity snapshots rather
// than fills; the reconciler remembers the last remaining quantity per
// (venue, order) and emits the difference.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/venues/common"
)

// Reconciler owns the per-order reconciliation state and the per-venue status
// tables. Construct one per gateway instance; the state is never shared
// process-wide.
type Reconciler struct {
	state  *stateStore
	tables map[string]common.StatusTable
}

// New creates a Reconciler with the given venue status tables.
func New(tables map[string]common.StatusTable) *Reconciler {
	return &Reconciler{
		state:  newStateStore(),
		tables: tables,
	}
}

func key(venueID, venueOrderID string) string {
	return venueID + "/" + venueOrderID
}

// Apply processes one decoded order update. It returns the resulting trade
// and whether one should be delivered.
//
// Cancellations emit a zero-quantity trade and evict the order's state.
// Cumulative snapshots emit the delta against the previous remaining
// quantity; a zero delta (the first snapshot, or a duplicate frame) updates
// state but emits nothing, and a negative delta means an out-of-order frame:
// the update is rejected with common.ErrOutOfOrderUpdate, leaving state
// untouched. Discrete fill events map 1:1 and never touch the state.
func (r *Reconciler) Apply(u common.OrderUpdate) (common.Trade, bool, error) {
	table, ok := r.tables[u.VenueID]
	if !ok {
		return common.Trade{}, false, fmt.Errorf("no status table for venue %s", u.VenueID)
	}
	status, err := table.Normalize(u.VenueID, u.RawStatus)
	if err != nil {
		return common.Trade{}, false, err
	}

	trade := common.Trade{
		VenueID:      u.VenueID,
		VenueOrderID: u.VenueOrderID,
		TradeID:      u.TradeID,
		Price:        u.Price,
		Status:       status,
		Timestamp:    u.Timestamp,
	}

	if status == common.StatusCanceled {
		// No quantity is ever attributed to a cancellation.
		trade.Qty = decimal.Zero
		r.state.delete(key(u.VenueID, u.VenueOrderID))
		return trade, true, nil
	}

	if u.Discrete {
		trade.Qty = u.FillQty
		return trade, true, nil
	}

	var delta decimal.Decimal
	var stale bool
	r.state.update(key(u.VenueID, u.VenueOrderID), func(prev decimal.Decimal, seen bool) (decimal.Decimal, bool) {
		if !seen {
			// First observed update for this order: no prior fill to subtract.
			prev = u.OriginalQty
		}
		delta = prev.Sub(u.Remaining)
		if delta.Sign() < 0 {
			stale = true
			return prev, seen
		}
		// Remaining zero means the order is done; drop the entry.
		return u.Remaining, u.Remaining.Sign() > 0
	})
	if stale {
		return common.Trade{}, false, fmt.Errorf("%w: venue %s order %s remaining rose to %s",
			common.ErrOutOfOrderUpdate, u.VenueID, u.VenueOrderID, u.Remaining)
	}
	if delta.Sign() == 0 {
		// Nothing newly filled: either the opening snapshot or a duplicate.
		return common.Trade{}, false, nil
	}

	trade.Qty = delta
	return trade, true, nil
}

// TrackedOrders returns how many orders currently hold reconciliation state.
func (r *Reconciler) TrackedOrders() int {
	return r.state.len()
}
