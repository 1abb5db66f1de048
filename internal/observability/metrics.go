package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "radkit_mcp"

// MetricsCollector holds all Prometheus metrics for the server.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Session metrics.
	ServiceConnectsTotal   *prometheus.CounterVec
	ServiceConnectDuration prometheus.Histogram

	// Rate limiting.
	RateLimitedTotal *prometheus.CounterVec

	// HTTP transport metrics. Labeled by route name, never by raw path.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge

	// SSE streams live for the whole client session and are kept out of
	// the request metrics.
	SSEStreams        prometheus.Gauge
	SSEStreamDuration prometheus.Histogram
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions by outcome.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"tool"}),

		ServiceConnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "service_connects_total",
			Help:      "Total service connection attempts.",
		}, []string{"status"}),

		ServiceConnectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "service_connect_duration_seconds",
			Help:      "Service connection duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),

		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Device operations rejected by the rate limiter.",
		}, []string{"tool"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by transport route.",
		}, []string{"route", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds, SSE streams excluded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "HTTP requests in progress, SSE streams excluded.",
		}),

		SSEStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "open_streams",
			Help:      "MCP clients currently connected over SSE.",
		}),

		SSEStreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "stream_duration_seconds",
			Help:      "Lifetime of closed SSE streams in seconds.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 14400},
		}),
	}

	reg.MustRegister(
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.ServiceConnectsTotal,
		m.ServiceConnectDuration,
		m.RateLimitedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
		m.SSEStreams,
		m.SSEStreamDuration,
	)

	return m
}

// RegisterPoolGauges exposes the dispatch pool's size and occupancy.
func (m *MetricsCollector) RegisterPoolGauges(size func() int, inFlight func() int) {
	if m == nil {
		return
	}
	m.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "workers",
			Help:      "Size of the device call worker pool.",
		}, func() float64 { return float64(size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Device calls currently holding a worker, abandoned ones included.",
		}, func() float64 { return float64(inFlight()) }),
	)
}
