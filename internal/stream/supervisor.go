// Package stream keeps venue fill streams alive and funnels their updates
// through reconciliation into a single trade queue.
package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"trading-gateway/internal/events"
	"trading-gateway/internal/reconcile"
	"trading-gateway/pkg/venues/common"
)

// reconnectDelay is the pause before re-dialing after a stream drop.
const reconnectDelay = 5 * time.Second

// Supervisor subscribes to every venue's fill stream, feeds raw updates to
// the reconciler and queues the resulting trades. Each venue session is also
// torn down and re-dialed on a fixed wall-clock interval, which bounds the
// lifetime of server-side session state (listen keys, hub connections).
type Supervisor struct {
	connectors  []common.Connector
	reconciler  *reconcile.Reconciler
	bus         *events.Bus
	resubscribe time.Duration

	mu      sync.Mutex
	trades  chan common.Trade
	dropped atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor over the given connectors. queueSize bounds the
// trade queue; when it is full the oldest trade is discarded and counted.
func New(connectors []common.Connector, rec *reconcile.Reconciler, bus *events.Bus, resubscribe time.Duration, queueSize int) *Supervisor {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if resubscribe <= 0 {
		resubscribe = time.Hour
	}
	return &Supervisor{
		connectors:  connectors,
		reconciler:  rec,
		bus:         bus,
		resubscribe: resubscribe,
		trades:      make(chan common.Trade, queueSize),
	}
}

// Trades is the queue of reconciled trades.
func (s *Supervisor) Trades() <-chan common.Trade { return s.trades }

// Dropped reports how many trades were discarded because the queue was full.
func (s *Supervisor) Dropped() uint64 { return s.dropped.Load() }

// Start launches one supervision loop per venue.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, conn := range s.connectors {
		s.wg.Add(1)
		go func(conn common.Connector) {
			defer s.wg.Done()
			s.run(ctx, conn)
		}(conn)
	}
}

// Stop tears down every venue session and closes the trade queue once the
// last update has been reconciled, so consumers can drain to the end.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	close(s.trades)
}

// run keeps one venue subscribed until ctx is done.
func (s *Supervisor) run(ctx context.Context, conn common.Connector) {
	for {
		if err := s.session(ctx, conn); err != nil {
			log.Printf("stream %s: %v", conn.ID(), err)
			s.bus.Publish(events.EventStreamDisconnected, events.StreamStatus{
				VenueID: conn.ID(),
				Reason:  err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// session holds a single subscription open until it drops or the
// resubscription deadline passes.
func (s *Supervisor) session(ctx context.Context, conn common.Connector) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, stop, err := conn.Stream().Subscribe(sessionCtx)
	if err != nil {
		return err
	}
	defer stop()

	s.bus.Publish(events.EventStreamConnected, events.StreamStatus{VenueID: conn.ID()})

	deadline := time.NewTimer(s.resubscribe)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			log.Printf("stream %s: scheduled resubscription", conn.ID())
			return nil
		case u, ok := <-updates:
			if !ok {
				return errors.New("stream closed")
			}
			s.apply(u)
		}
	}
}

// apply reconciles one raw update and queues any resulting trade.
func (s *Supervisor) apply(u common.OrderUpdate) {
	trade, emitted, err := s.reconciler.Apply(u)
	if err != nil {
		log.Printf("stream %s: rejected update for order %s: %v", u.VenueID, u.VenueOrderID, err)
		s.bus.Publish(events.EventUpdateRejected, events.RejectedUpdate{
			VenueID:      u.VenueID,
			VenueOrderID: u.VenueOrderID,
			Reason:       err.Error(),
		})
		return
	}
	if !emitted {
		return
	}
	s.enqueue(trade)
	s.bus.Publish(events.EventTrade, trade)
}

// enqueue adds a trade to the bounded queue, discarding the oldest entry
// when full. Recent trades are worth more than old ones to a consumer that
// has already fallen behind.
func (s *Supervisor) enqueue(trade common.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.trades <- trade:
			return
		default:
		}
		select {
		case old := <-s.trades:
			s.dropped.Add(1)
			s.bus.Publish(events.EventTradeDropped, old)
		default:
		}
	}
}
