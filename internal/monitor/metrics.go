// Package monitor aggregates runtime counters for the status endpoint. It
// watches the event bus rather than instrumenting call sites, so the hot
// paths carry no metrics dependencies.
package monitor

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"trading-gateway/internal/events"
	"trading-gateway/pkg/venues/common"
)

// Collector accumulates per-venue stream counters and HTTP latency.
type Collector struct {
	mu     sync.Mutex
	venues map[string]*venueCounters

	httpLatency *LatencyHistogram
	requests    atomic.Uint64

	started time.Time
}

type venueCounters struct {
	trades      uint64
	dropped     uint64
	rejected    uint64
	disconnects uint64
	connected   bool
	lastEvent   time.Time
}

// VenueStats is the per-venue slice of a snapshot.
type VenueStats struct {
	Trades      uint64    `json:"trades"`
	Dropped     uint64    `json:"dropped"`
	Rejected    uint64    `json:"rejected"`
	Disconnects uint64    `json:"disconnects"`
	Connected   bool      `json:"connected"`
	LastEvent   time.Time `json:"last_event"`
}

// Snapshot is a point-in-time view served over HTTP.
type Snapshot struct {
	Venues         map[string]VenueStats `json:"venues"`
	RequestCount   uint64                `json:"request_count"`
	RequestLatency LatencyStats          `json:"request_latency"`
	GoroutineCount int                   `json:"goroutine_count"`
	HeapAlloc      uint64                `json:"heap_alloc_bytes"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	Timestamp      time.Time             `json:"timestamp"`
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		venues:      make(map[string]*venueCounters),
		httpLatency: NewLatencyHistogram(1000),
		started:     time.Now(),
	}
}

// Watch subscribes to the bus and tallies events until ctx is canceled.
func (c *Collector) Watch(ctx context.Context, bus *events.Bus) {
	trades, unsubTrades := bus.Subscribe(events.EventTrade, 256)
	drops, unsubDrops := bus.Subscribe(events.EventTradeDropped, 256)
	rejects, unsubRejects := bus.Subscribe(events.EventUpdateRejected, 64)
	conns, unsubConns := bus.Subscribe(events.EventStreamConnected, 16)
	disconns, unsubDisconns := bus.Subscribe(events.EventStreamDisconnected, 16)

	go func() {
		defer unsubTrades()
		defer unsubDrops()
		defer unsubRejects()
		defer unsubConns()
		defer unsubDisconns()

		for {
			select {
			case <-ctx.Done():
				return
			case p := <-trades:
				if t, ok := p.(common.Trade); ok {
					c.touch(t.VenueID, func(v *venueCounters) { v.trades++ })
				}
			case p := <-drops:
				if t, ok := p.(common.Trade); ok {
					c.touch(t.VenueID, func(v *venueCounters) { v.dropped++ })
				}
			case p := <-rejects:
				if r, ok := p.(events.RejectedUpdate); ok {
					c.touch(r.VenueID, func(v *venueCounters) { v.rejected++ })
				}
			case p := <-conns:
				if s, ok := p.(events.StreamStatus); ok {
					c.touch(s.VenueID, func(v *venueCounters) { v.connected = true })
				}
			case p := <-disconns:
				if s, ok := p.(events.StreamStatus); ok {
					c.touch(s.VenueID, func(v *venueCounters) {
						v.connected = false
						v.disconnects++
					})
				}
			}
		}
	}()
}

func (c *Collector) touch(venueID string, fn func(*venueCounters)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.venues[venueID]
	if !ok {
		v = &venueCounters{}
		c.venues[venueID] = v
	}
	fn(v)
	v.lastEvent = time.Now()
}

// RecordRequest adds one HTTP request observation.
func (c *Collector) RecordRequest(d time.Duration) {
	c.requests.Add(1)
	c.httpLatency.RecordDuration(d)
}

// GetSnapshot returns the current counters.
func (c *Collector) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.mu.Lock()
	venues := make(map[string]VenueStats, len(c.venues))
	for id, v := range c.venues {
		venues[id] = VenueStats{
			Trades:      v.trades,
			Dropped:     v.dropped,
			Rejected:    v.rejected,
			Disconnects: v.disconnects,
			Connected:   v.connected,
			LastEvent:   v.lastEvent,
		}
	}
	c.mu.Unlock()

	return Snapshot{
		Venues:         venues,
		RequestCount:   c.requests.Load(),
		RequestLatency: c.httpLatency.Stats(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		UptimeSeconds:  int64(time.Since(c.started).Seconds()),
		Timestamp:      time.Now(),
	}
}

// LatencyHistogram tracks latency samples in a sliding window. Stats are
// recomputed lazily, only when samples changed since the last call.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts a duration to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg, p50, p95, p99 over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}
