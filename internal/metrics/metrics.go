// Package metrics holds the Prometheus collectors for the ledger, the chat
// controller and the analytics emitters. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medchat"

type Metrics struct {
	Registry *prometheus.Registry

	ledgerAppends   *prometheus.CounterVec
	ledgerRejected  prometheus.Counter
	ledgerAnomalies prometheus.Gauge
	turns           *prometheus.CounterVec
	dispatchSeconds *prometheus.HistogramVec
	emits           *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ledgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Ledger records appended, by event type.",
		}, []string{"event_type"}),
		ledgerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rejected_total",
			Help:      "Ledger appends rejected by validation.",
		}),
		ledgerAnomalies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "anomalies",
			Help:      "Malformed ledger records found by the last full scan.",
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Completed chat turns, by agent kind and outcome.",
		}, []string{"kind", "outcome"}),
		dispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "dispatch_seconds",
			Help:      "Agent dispatcher round-trip latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		emits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "emits_total",
			Help:      "Analytics emit attempts, by event type and result.",
		}, []string{"event_type", "result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ledgerAppends,
		m.ledgerRejected,
		m.ledgerAnomalies,
		m.turns,
		m.dispatchSeconds,
		m.emits,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) LedgerAppended(eventType string) {
	if m == nil {
		return
	}
	m.ledgerAppends.WithLabelValues(eventType).Inc()
}

func (m *Metrics) LedgerRejected() {
	if m == nil {
		return
	}
	m.ledgerRejected.Inc()
}

// LedgerAnomalies records the malformed-record count of a full scan. Every
// scan reads the same file, so the value is replaced rather than summed.
func (m *Metrics) LedgerAnomalies(n int) {
	if m == nil {
		return
	}
	m.ledgerAnomalies.Set(float64(n))
}

func (m *Metrics) TurnCompleted(kind, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveDispatch(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) Emitted(eventType string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.emits.WithLabelValues(eventType, result).Inc()
}
