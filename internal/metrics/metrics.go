package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shop"

type StoreMetrics struct {
	Operations *prometheus.CounterVec
	LatencyMS  *prometheus.HistogramVec
	Noops      *prometheus.CounterVec
}

type ReconcileMetrics struct {
	Mismatches *prometheus.GaugeVec
	Repairs    *prometheus.CounterVec
	Runs       prometheus.Counter
}

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations by name and result.",
		}, []string{"op", "result"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_ms",
			Help:      "Store operation latency in milliseconds, all round trips included.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"op"}),
		Noops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "noop_total",
			Help:      "Operations that matched no row (stale status transitions, already deleted orders).",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.LatencyMS, m.Noops)
	}
	return m
}

// Observe records one finished operation. Safe on a nil receiver.
func (m *StoreMetrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.LatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func (m *StoreMetrics) Noop(op string) {
	if m == nil {
		return
	}
	m.Noops.WithLabelValues(op).Inc()
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		Mismatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "mismatches",
			Help:      "Projection mismatches found by the last reconciliation pass.",
		}, []string{"kind"}),
		Repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "repairs_total",
			Help:      "Projection rows rewritten or deleted by reconciliation.",
		}, []string{"kind", "result"}),
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Completed reconciliation passes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Mismatches, m.Repairs, m.Runs)
	}
	return m
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.LatencyMS)
	}
	return m
}

// RegisterCacheStats exports a cache's hit and miss counters, read from stats
// at scrape time.
func RegisterCacheStats(reg prometheus.Registerer, cache string, stats func() (hits, misses int64)) {
	if reg == nil || stats == nil {
		return
	}
	labels := prometheus.Labels{"cache": cache}
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Cache lookups answered from the cache.",
			ConstLabels: labels,
		}, func() float64 {
			hits, _ := stats()
			return float64(hits)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Cache lookups that fell through to the store.",
			ConstLabels: labels,
		}, func() float64 {
			_, misses := stats()
			return float64(misses)
		}),
	)
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
