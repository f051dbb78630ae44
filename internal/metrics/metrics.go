package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds the service collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	created       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	ledgerLatency *prometheus.HistogramVec
	deliveries    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_created_total",
			Help: "Transactions recorded, by ledger mode.",
		}, []string{"mode"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transaction_transitions_total",
			Help: "Applied status transitions, by target status and trigger.",
		}, []string{"status", "source"}),
		ledgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_call_duration_seconds",
			Help:    "Latency of calls to the ledger network.",
			Buckets: latencyBuckets,
		}, []string{"operation", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_delivery_confirmations_total",
			Help: "Delivery confirmation attempts, by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Number of requests per handler.",
		}, []string{"handler", "code", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "A histogram of latencies for requests.",
			Buckets: latencyBuckets,
		}, []string{"handler", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.created,
		m.transitions,
		m.ledgerLatency,
		m.deliveries,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

// Handler serves the Prometheus exposition for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler counts requests and records latency for one named route.
func (m *Metrics) InstrumentHandler(name string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerCounter(m.httpRequests.MustCurryWith(labels),
		promhttp.InstrumentHandlerDuration(m.httpLatency.MustCurryWith(labels), h),
	)
}

func (m *Metrics) TransactionCreated(mode string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(mode).Inc()
}

func (m *Metrics) Transition(status, source string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, source).Inc()
}

func (m *Metrics) ObserveLedgerCall(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ledgerLatency.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) DeliveryConfirmation(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}
