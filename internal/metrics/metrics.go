// Package metrics exposes Prometheus collectors for HTTP traffic and the order workflow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderdesk"

// Metrics holds the application collectors and the registry they are registered on.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	ordersSubmitted     *prometheus.CounterVec
	ordersFulfilled     *prometheus.CounterVec
	ordersSwept         prometheus.Counter
	ledgerOperations    *prometheus.CounterVec
	notificationsFailed prometheus.Counter
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Order submissions by service kind and outcome.",
		}, []string{"kind", "outcome"}),
		ordersFulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "fulfilled_total",
			Help:      "Fulfillment attempts by outcome.",
		}, []string{"outcome"}),
		ordersSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "swept_total",
			Help:      "Stale orders failed by the sweeper.",
		}),
		ledgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failed_total",
			Help:      "Notifications that could not be persisted or delivered.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.ordersSubmitted,
		m.ordersFulfilled,
		m.ordersSwept,
		m.ledgerOperations,
		m.notificationsFailed,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordSubmission records the outcome of a SubmitOrder call.
func (m *Metrics) RecordSubmission(kind, outcome string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(kind, outcome).Inc()
}

// RecordFulfillment records the outcome of a FulfillOrder call.
func (m *Metrics) RecordFulfillment(outcome string) {
	if m == nil {
		return
	}
	m.ordersFulfilled.WithLabelValues(outcome).Inc()
}

// RecordSwept adds n swept orders.
func (m *Metrics) RecordSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ordersSwept.Add(float64(n))
}

// RecordLedgerOperation records a debit, credit or reversal.
func (m *Metrics) RecordLedgerOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOperations.WithLabelValues(op, outcome).Inc()
}

// RecordNotificationFailure counts a best-effort notification that was dropped.
func (m *Metrics) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.notificationsFailed.Inc()
}
