package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/pkg/db"
)

// Store is the batch sink; *db.Database implements it.
type Store interface {
	SaveBatch(ctx context.Context, orders []db.Order, trades []db.Trade) error
}

// Journal buffers order and trade records and writes them in one
// transaction per flush, off the execution and tick goroutines. A failed
// batch is kept and retried on the next flush.
type Journal struct {
	store    Store
	log      zerolog.Logger
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	orders []db.Order
	trades []db.Trade

	flushMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	metrics JournalMetrics
}

// JournalMetrics reports write activity.
type JournalMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewJournal starts a journal that flushes every interval or once maxSize
// records are buffered.
func NewJournal(store Store, maxSize int, interval time.Duration, log zerolog.Logger) *Journal {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	j := &Journal{
		store:    store,
		log:      log,
		maxSize:  maxSize,
		interval: interval,
		done:     make(chan struct{}),
	}
	j.wg.Add(1)
	go j.backgroundFlush()
	return j
}

// Order queues an entry order record.
func (j *Journal) Order(o db.Order) {
	j.mu.Lock()
	j.orders = append(j.orders, o)
	full := len(j.orders)+len(j.trades) >= j.maxSize
	j.mu.Unlock()
	j.afterWrite(full)
}

// Trade queues a closed trade record.
func (j *Journal) Trade(t db.Trade) {
	j.mu.Lock()
	j.trades = append(j.trades, t)
	full := len(j.orders)+len(j.trades) >= j.maxSize
	j.mu.Unlock()
	j.afterWrite(full)
}

func (j *Journal) afterWrite(full bool) {
	if j.closed.Load() {
		// Nobody is left to flush in the background.
		j.Flush(context.Background())
		return
	}
	if full {
		j.Flush(context.Background())
	}
}

// Flush writes everything buffered so far.
func (j *Journal) Flush(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	orders, trades := j.orders, j.trades
	j.orders, j.trades = nil, nil
	j.mu.Unlock()

	n := len(orders) + len(trades)
	if n == 0 {
		return nil
	}

	atomic.AddUint64(&j.metrics.TotalBatches, 1)
	if err := j.store.SaveBatch(ctx, orders, trades); err != nil {
		atomic.AddUint64(&j.metrics.TotalErrors, 1)
		j.log.Error().Err(err).Int("records", n).Msg("journal flush failed, will retry")
		j.mu.Lock()
		j.orders = append(orders, j.orders...)
		j.trades = append(trades, j.trades...)
		j.mu.Unlock()
		return err
	}

	atomic.AddUint64(&j.metrics.TotalWrites, uint64(n))
	j.mu.Lock()
	j.metrics.LastBatchSize = n
	j.metrics.LastFlushTime = time.Now()
	j.mu.Unlock()
	j.log.Debug().Int("orders", len(orders)).Int("trades", len(trades)).Msg("journal flushed")
	return nil
}

func (j *Journal) backgroundFlush() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Flush(context.Background())
		case <-j.done:
			if err := j.Flush(context.Background()); err != nil {
				j.log.Warn().Err(err).Msg("final journal flush failed")
			}
			return
		}
	}
}

// Pending returns the number of buffered records.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.orders) + len(j.trades)
}

// Metrics returns a copy of the write counters.
func (j *Journal) Metrics() JournalMetrics {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JournalMetrics{
		TotalWrites:   atomic.LoadUint64(&j.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&j.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&j.metrics.TotalErrors),
		LastBatchSize: j.metrics.LastBatchSize,
		LastFlushTime: j.metrics.LastFlushTime,
	}
}

// Close stops the background flusher after a final flush. Records queued
// after Close are written synchronously.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	close(j.done)
	j.wg.Wait()
	return nil
}
