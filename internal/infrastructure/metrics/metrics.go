// Package metrics exposes Prometheus collectors for the ledger sync and payout paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every recording method is a no-op on a nil receiver.
type Metrics struct {
	EventsApplied  *prometheus.CounterVec
	TxsProcessed   *prometheus.CounterVec
	SyncErrors     *prometheus.CounterVec
	SyncCursor     *prometheus.GaugeVec
	SyncDuration   *prometheus.HistogramVec
	Distributions  *prometheus.CounterVec
	ContentFetches *prometheus.CounterVec
	ChainWrites    *prometheus.CounterVec
	Idempotency    *prometheus.CounterVec

	registry *prometheus.Registry
}

const namespace = "spv"

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.EventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_applied_total",
		Help:      "Chain events applied to the ledger by kind",
	}, []string{"stream", "kind"})

	m.TxsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Transactions seen by the reconciler by outcome",
	}, []string{"stream", "outcome"}) // applied, replayed, skipped

	m.SyncErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_errors_total",
		Help:      "Reconciliation failures by class",
	}, []string{"stream", "class"}) // transient, data, fatal

	m.SyncCursor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_cursor_block",
		Help:      "Last fully processed block per stream",
	}, []string{"stream"})

	m.SyncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Wall time of one reconciliation run",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stream"})

	m.Distributions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "distributions_total",
		Help:      "Yield distributions by result",
	}, []string{"result"})

	m.ContentFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "content_fetches_total",
		Help:      "Metadata fetch attempts by gateway and result",
	}, []string{"gateway", "result"})

	m.ChainWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_writes_total",
		Help:      "Signed contract calls by method and result",
	}, []string{"method", "result"})

	m.Idempotency = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotent_requests_total",
		Help:      "Guarded admin writes by outcome",
	}, []string{"outcome"}) // executed, replayed, conflict, rejected, released

	m.registry.MustRegister(
		m.EventsApplied, m.TxsProcessed, m.SyncErrors, m.SyncCursor, m.SyncDuration,
		m.Distributions, m.ContentFetches, m.ChainWrites, m.Idempotency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventApplied(stream, kind string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(stream, kind).Inc()
}

func (m *Metrics) TxOutcome(stream, outcome string) {
	if m == nil {
		return
	}
	m.TxsProcessed.WithLabelValues(stream, outcome).Inc()
}

func (m *Metrics) SyncError(stream, class string) {
	if m == nil {
		return
	}
	m.SyncErrors.WithLabelValues(stream, class).Inc()
}

func (m *Metrics) Cursor(stream string, block uint64) {
	if m == nil {
		return
	}
	m.SyncCursor.WithLabelValues(stream).Set(float64(block))
}

func (m *Metrics) ObserveSync(stream string, started time.Time) {
	if m == nil {
		return
	}
	m.SyncDuration.WithLabelValues(stream).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Distribution(result string) {
	if m == nil {
		return
	}
	m.Distributions.WithLabelValues(result).Inc()
}

func (m *Metrics) ContentFetch(gateway, result string) {
	if m == nil {
		return
	}
	m.ContentFetches.WithLabelValues(gateway, result).Inc()
}

func (m *Metrics) ChainWrite(method string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ChainWrites.WithLabelValues(method, result).Inc()
}

func (m *Metrics) IdempotentRequest(outcome string) {
	if m == nil {
		return
	}
	m.Idempotency.WithLabelValues(outcome).Inc()
}
