package observability

import (
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Route names used as metric labels and span names.
const (
	RouteSSE     = "sse"
	RouteMessage = "message"
	RouteHealth  = "health"
	RouteMetrics = "metrics"
	RouteOther   = "other"
)

// Routes maps the HTTP transport's paths to route names.
type Routes struct {
	SSE     string // Event stream endpoint, e.g. "/sse".
	Message string // JSON-RPC POST endpoint, e.g. "/message".
	Metrics string // Prometheus endpoint. Empty when metrics are off.
}

// Name returns the route name for path. Unknown paths share one label so
// scanners cannot grow the label set.
func (r Routes) Name(path string) string {
	switch {
	case path == "":
		return RouteOther
	case path == r.SSE:
		return RouteSSE
	case path == r.Message:
		return RouteMessage
	case path == r.Metrics:
		return RouteMetrics
	case path == "/healthz", path == "/readyz":
		return RouteHealth
	}
	return RouteOther
}

// TransportMiddleware instruments the MCP HTTP transport.
//
// The SSE route holds one request open per connected client, so it is
// tracked as an open stream with a lifetime histogram and never feeds the
// request latency metrics. Every other route records count, latency and
// in-flight requests under its route name. Message posts carry the MCP
// session ID as a span attribute.
func TransportMiddleware(metrics *MetricsCollector, tracer trace.Tracer, routes Routes) okapi.Middleware {
	return func(next okapi.HandlerFunc) okapi.HandlerFunc {
		return func(c *okapi.Context) error {
			r := c.Request()
			route := routes.Name(r.URL.Path)

			if tracer != nil {
				attrs := []attribute.KeyValue{
					attribute.String("http.method", r.Method),
					attribute.String("mcp.route", route),
				}
				if id := r.URL.Query().Get("sessionId"); id != "" {
					attrs = append(attrs, attribute.String("mcp.session_id", id))
				}
				_, span := tracer.Start(r.Context(), "mcp.http."+route, trace.WithAttributes(attrs...))
				defer span.End()
			}

			if route == RouteSSE {
				return serveStream(metrics, next, c)
			}

			if metrics != nil {
				metrics.ActiveRequests.Inc()
				defer metrics.ActiveRequests.Dec()
			}

			start := time.Now()
			err := next(c)

			if metrics != nil {
				code := c.Response().StatusCode()
				if code == 0 {
					code = http.StatusOK
				}
				metrics.HTTPRequestsTotal.WithLabelValues(route, statusCode(code)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			}
			return err
		}
	}
}

func serveStream(metrics *MetricsCollector, next okapi.HandlerFunc, c *okapi.Context) error {
	if metrics == nil {
		return next(c)
	}
	metrics.SSEStreams.Inc()
	start := time.Now()
	defer func() {
		metrics.SSEStreams.Dec()
		metrics.SSEStreamDuration.Observe(time.Since(start).Seconds())
	}()
	return next(c)
}
