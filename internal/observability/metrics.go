package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "canvasgate"

// Metrics holds every Prometheus collector the gateway exports. Each
// instance owns its registry so tests can build as many as they need.
type Metrics struct {
	Registry *prometheus.Registry

	// RequestsTotal counts tracked requests. Labels: operation, status.
	RequestsTotal *prometheus.CounterVec
	// RequestDuration observes tracked request latency. Labels: operation.
	RequestDuration *prometheus.HistogramVec
	// TokensTotal counts provider tokens. Labels: provider, direction.
	TokensTotal *prometheus.CounterVec
	// CostTotal accumulates estimated spend in USD. Labels: provider.
	CostTotal *prometheus.CounterVec
	// ActiveStreams is the number of open completion streams.
	ActiveStreams prometheus.Gauge
	// StreamWritesDropped counts intermediate node writes skipped because
	// the previous write had not finished.
	StreamWritesDropped prometheus.Counter
	// RateLimitedTotal counts rejected requests. Labels: operation.
	RateLimitedTotal *prometheus.CounterVec
	// AlertsTotal counts anomaly alerts. Labels: metric, severity.
	AlertsTotal *prometheus.CounterVec
	// AuditWriteFailures counts swallowed audit-write errors.
	AuditWriteFailures prometheus.Counter
}

// NewMetrics creates and registers the gateway collectors on a fresh
// registry, together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Tracked requests by operation and final status.",
		}, []string{"operation", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Tracked request duration by operation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_total",
			Help:      "Provider tokens by provider and direction (input, output).",
		}, []string{"provider", "direction"}),
		CostTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cost_usd_total",
			Help:      "Estimated provider spend in USD.",
		}, []string{"provider"}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_streams",
			Help:      "Completion streams currently open.",
		}),
		StreamWritesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_writes_dropped_total",
			Help:      "Intermediate node writes skipped while a previous write was in flight.",
		}),
		RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-subject rate limiter.",
		}, []string{"operation"}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "anomaly_alerts_total",
			Help:      "Security alerts raised by the anomaly detector.",
		}, []string{"metric", "severity"}),
		AuditWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit entries that could not be written.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
