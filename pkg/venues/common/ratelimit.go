package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// UsageTracker follows a venue's request-weight budget from response headers.
// Venues that report consumed weight (binance's X-MBX-USED-WEIGHT) feed it so
// a connector can back off before the venue bans the key.
type UsageTracker struct {
	mu        sync.RWMutex
	used      int
	limit     int
	window    time.Duration
	windowEnd time.Time
}

// NewUsageTracker creates a tracker for limit weight per window.
func NewUsageTracker(limit int, window time.Duration) *UsageTracker {
	return &UsageTracker{
		limit:     limit,
		window:    window,
		windowEnd: time.Now().Add(window),
	}
}

// Observe records the venue-reported used weight from a response header.
func (u *UsageTracker) Observe(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if time.Now().After(u.windowEnd) {
		u.windowEnd = time.Now().Add(u.window)
	}
	u.used = weight

	if pct := float64(u.used) / float64(u.limit) * 100; pct >= 90 {
		log.Printf("rate limit: %d/%d (%.0f%%) of venue weight budget used", u.used, u.limit, pct)
	}
}

// Usage returns the current used weight and the configured limit.
func (u *UsageTracker) Usage() (used, limit int) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if time.Now().After(u.windowEnd) {
		return 0, u.limit
	}
	return u.used, u.limit
}

// ShouldDelay reports whether the next request should be deferred.
func (u *UsageTracker) ShouldDelay() bool {
	used, limit := u.Usage()
	return float64(used)/float64(limit) >= 0.9
}
