package monitor

import (
	"sync/atomic"
	"time"

	"momentum-core/internal/events"
	"momentum-core/internal/order"
	"momentum-core/internal/position"
)

// Monitor counts hub traffic into SystemMetrics and the Prometheus recorder.
type Monitor struct {
	Metrics  *SystemMetrics
	Recorder *Recorder
}

// New creates a monitor with fresh metrics and a fresh registry.
func New() *Monitor {
	return &Monitor{Metrics: NewSystemMetrics(), Recorder: NewRecorder()}
}

// Attach registers the monitor's handlers on bus. Call it before other
// subscribers so counters see every event even if a later handler panics.
func (m *Monitor) Attach(bus *events.Bus) {
	bus.Handle(events.EventHeartbeat, func(p any) {
		m.Recorder.recordEvent(string(events.EventHeartbeat))
		ts := time.Now()
		if hb, ok := p.(events.Heartbeat); ok {
			ts = hb.TS
		}
		m.Metrics.heartbeat(ts)
	})
	bus.Handle(events.EventPriceTick, func(p any) {
		if t, ok := p.(events.PriceTick); ok {
			m.Recorder.recordPrice(t.Symbol, t.Price)
		}
	})
	bus.Handle(events.EventSignalCreated, func(any) {
		m.Recorder.recordEvent(string(events.EventSignalCreated))
		atomic.AddUint64(&m.Metrics.signals, 1)
	})
	bus.Handle(events.EventOrderPlaced, func(p any) {
		m.Recorder.recordEvent(string(events.EventOrderPlaced))
		atomic.AddUint64(&m.Metrics.orders, 1)
		if r, ok := p.(*order.Result); ok && r.Candidate != nil {
			m.Metrics.OrderLatency.RecordDuration(r.CreatedAt.Sub(r.Candidate.CreatedAt))
		}
	})
	bus.Handle(events.EventPositionScaled, func(any) {
		m.Recorder.recordEvent(string(events.EventPositionScaled))
	})
	bus.Handle(events.EventTradeClosed, func(p any) {
		m.Recorder.recordEvent(string(events.EventTradeClosed))
		if t, ok := p.(position.Trade); ok {
			m.Metrics.tradeClosed(t.PnL)
			m.Recorder.recordPnL(t.PnL)
		}
	})
	bus.Handle(events.EventRiskRejected, func(p any) {
		m.Recorder.recordEvent(string(events.EventRiskRejected))
		atomic.AddUint64(&m.Metrics.rejections, 1)
		if r, ok := p.(events.RiskRejected); ok {
			m.Recorder.recordRejection(r.Reason)
		}
	})
	bus.Handle(events.EventExecutionFailed, func(any) {
		m.Recorder.recordEvent(string(events.EventExecutionFailed))
		atomic.AddUint64(&m.Metrics.errors, 1)
	})
}

// ObserveCycle records a scan cycle duration in both sinks.
func (m *Monitor) ObserveCycle(d time.Duration) {
	m.Metrics.ObserveCycle(d)
	m.Recorder.observeCycle(d.Seconds())
}

// RecordError counts an error raised outside the hub, such as a panic
// recovered inside the scan loop.
func (m *Monitor) RecordError() {
	atomic.AddUint64(&m.Metrics.errors, 1)
}
