package common

import (
	"sync"
	"time"
)

// Clock tracks the offset between local time and one venue's server time so
// signed requests carry timestamps the venue accepts.
type Clock struct {
	mu     sync.RWMutex
	offset int64 // ms, server minus local
}

// Calibrate records a fresh server-time sample. Network latency is assumed
// symmetric around the sample.
func (c *Clock) Calibrate(serverMillis, sentAt, receivedAt int64) {
	local := sentAt + (receivedAt-sentAt)/2

	c.mu.Lock()
	c.offset = serverMillis - local
	c.mu.Unlock()
}

// Now returns the current epoch-millis adjusted to venue time.
func (c *Clock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().UnixMilli() + c.offset
}

// Offset returns the current offset in milliseconds.
func (c *Clock) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
