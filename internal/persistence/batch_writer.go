// Package persistence batches fill-stream writes so a busy stream does not
// pay one sqlite transaction per trade.
package persistence

import (
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"trading-gateway/pkg/venues/common"
)

// WriteOp is one buffered statement.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter buffers writes and flushes them in a single transaction,
// either when the buffer fills or on a timer.
type BatchWriter struct {
	db          *sql.DB
	buffer      []WriteOp
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	wg          sync.WaitGroup
	metrics     Metrics
}

// Metrics reports batch writer activity.
type Metrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter starts a writer that flushes at maxSize buffered ops or
// every interval, whichever comes first.
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		db:          db,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// WriteTrade buffers one reconciled trade.
func (bw *BatchWriter) WriteTrade(tr common.Trade) {
	bw.Write(WriteOp{
		Query: `INSERT INTO trades (venue_id, venue_order_id, trade_id, price, qty, status, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		Args: []any{tr.VenueID, tr.VenueOrderID, tr.TradeID, tr.Price.String(), tr.Qty.String(), string(tr.Status), tr.Timestamp},
	})
}

// WriteOrderStatus buffers a status transition for a stored order. Unknown
// orders are a no-op inside the batch.
func (bw *BatchWriter) WriteOrderStatus(venueID, venueOrderID string, status common.Status, now int64) {
	bw.Write(WriteOp{
		Query: `UPDATE orders SET status = ?, updated_at = ? WHERE venue_id = ? AND venue_order_id = ?`,
		Args:  []any{string(status), now, venueID, venueOrderID},
	})
}

// Write buffers one statement, flushing when the buffer is full.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		if err := bw.Flush(); err != nil {
			log.Printf("batch writer: flush on full buffer: %v", err)
		}
	}
}

// Flush writes all buffered statements in one transaction.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ops)
}

func (bw *BatchWriter) executeBatch(ops []WriteOp) error {
	atomic.AddUint64(&bw.metrics.TotalWrites, uint64(len(ops)))
	atomic.AddUint64(&bw.metrics.TotalBatches, 1)
	bw.metrics.LastBatchSize = len(ops)
	bw.metrics.LastFlushTime = time.Now()

	tx, err := bw.db.Begin()
	if err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		return err
	}

	for _, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			tx.Rollback()
			atomic.AddUint64(&bw.metrics.TotalErrors, 1)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		return err
	}
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				log.Printf("batch writer: background flush: %v", err)
			}
		case <-bw.done:
			if err := bw.Flush(); err != nil {
				log.Printf("batch writer: final flush: %v", err)
			}
			return
		}
	}
}

// Pending reports buffered statements not yet flushed.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns a copy of the current counters.
func (bw *BatchWriter) GetMetrics() Metrics {
	return Metrics{
		TotalWrites:   atomic.LoadUint64(&bw.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&bw.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&bw.metrics.TotalErrors),
		LastBatchSize: bw.metrics.LastBatchSize,
		LastFlushTime: bw.metrics.LastFlushTime,
	}
}

// Close flushes once more and stops the background loop.
func (bw *BatchWriter) Close() error {
	close(bw.done)
	bw.wg.Wait()
	return nil
}
