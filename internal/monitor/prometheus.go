package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports scanner activity to Prometheus. Each Recorder owns its
// registry so several can coexist in tests.
type Recorder struct {
	registry    *prometheus.Registry
	events      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	realizedPnL prometheus.Counter
	lossPnL     prometheus.Counter
	cycle       prometheus.Histogram
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "momentum_events_total",
				Help: "Hub events by topic",
			},
			[]string{"topic"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "momentum_risk_rejections_total",
				Help: "Candidates denied by the risk gate",
			},
			[]string{"reason"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "momentum_last_price",
				Help: "Last observed close per symbol",
			},
			[]string{"symbol"},
		),
		realizedPnL: f.NewCounter(prometheus.CounterOpts{
			Name: "momentum_realized_profit_total",
			Help: "Sum of positive realized P&L",
		}),
		lossPnL: f.NewCounter(prometheus.CounterOpts{
			Name: "momentum_realized_loss_total",
			Help: "Sum of realized losses as a positive number",
		}),
		cycle: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "momentum_scan_cycle_seconds",
			Help:    "Duration of a full scan cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) recordEvent(topic string) {
	r.events.WithLabelValues(topic).Inc()
}

func (r *Recorder) recordRejection(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

func (r *Recorder) recordPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) recordPnL(pnl float64) {
	if pnl >= 0 {
		r.realizedPnL.Add(pnl)
	} else {
		r.lossPnL.Add(-pnl)
	}
}

func (r *Recorder) observeCycle(seconds float64) {
	r.cycle.Observe(seconds)
}
