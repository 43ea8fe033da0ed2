package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics holds the heartbeat counters of the scanner process.
type SystemMetrics struct {
	ScanLatency  *LatencyHistogram
	OrderLatency *LatencyHistogram

	scans      uint64
	signals    uint64
	orders     uint64
	trades     uint64
	rejections uint64
	errors     uint64

	mu            sync.RWMutex
	lastHeartbeat time.Time
	realizedPnL   float64
	startedAt     time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ScanLatency:  NewLatencyHistogram(500),
		OrderLatency: NewLatencyHistogram(500),
		startedAt:    time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 500
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

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles, recomputed only after new samples.
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
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) heartbeat(ts time.Time) {
	atomic.AddUint64(&m.scans, 1)
	m.mu.Lock()
	m.lastHeartbeat = ts
	m.mu.Unlock()
}

func (m *SystemMetrics) tradeClosed(pnl float64) {
	atomic.AddUint64(&m.trades, 1)
	m.mu.Lock()
	m.realizedPnL += pnl
	m.mu.Unlock()
}

// ObserveCycle records the duration of one scan cycle.
func (m *SystemMetrics) ObserveCycle(d time.Duration) {
	m.ScanLatency.RecordDuration(d)
}

// MetricsSnapshot is the JSON view of the counters.
type MetricsSnapshot struct {
	Scans          uint64       `json:"scans"`
	Signals        uint64       `json:"signals"`
	Orders         uint64       `json:"orders"`
	Trades         uint64       `json:"trades"`
	Rejections     uint64       `json:"rejections"`
	Errors         uint64       `json:"errors"`
	RealizedPnL    float64      `json:"realized_pnl"`
	LastHeartbeat  time.Time    `json:"last_heartbeat"`
	Uptime         string       `json:"uptime"`
	ScanLatency    LatencyStats `json:"scan_latency_ms"`
	OrderLatency   LatencyStats `json:"order_latency_ms"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	last := m.lastHeartbeat
	pnl := m.realizedPnL
	started := m.startedAt
	m.mu.RUnlock()

	return MetricsSnapshot{
		Scans:          atomic.LoadUint64(&m.scans),
		Signals:        atomic.LoadUint64(&m.signals),
		Orders:         atomic.LoadUint64(&m.orders),
		Trades:         atomic.LoadUint64(&m.trades),
		Rejections:     atomic.LoadUint64(&m.rejections),
		Errors:         atomic.LoadUint64(&m.errors),
		RealizedPnL:    pnl,
		LastHeartbeat:  last,
		Uptime:         time.Since(started).Truncate(time.Second).String(),
		ScanLatency:    m.ScanLatency.Stats(),
		OrderLatency:   m.OrderLatency.Stats(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Timestamp:      time.Now(),
	}
}
