package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/ratelimit"
	"github.com/jkaninda/radkit-mcp/internal/session"
	"github.com/jkaninda/radkit-mcp/internal/tools"
)

// Status returns the metric label for an operation outcome.
func Status(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ratelimit.ErrRateLimited) {
		return "rate_limited"
	}
	return apperr.Kind(err)
}

// --- InstrumentedTool ---

// InstrumentedTool wraps a tools.Tool with metrics, tracing, and anomaly detection.
type InstrumentedTool struct {
	tools.Tool
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedTool wraps a tool with observability.
func NewInstrumentedTool(inner tools.Tool, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedTool {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedTool{
		Tool:    inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

// Instrument returns a wrapper for Registry.Wrap.
func (o *Observability) Instrument() func(tools.Tool) tools.Tool {
	return func(t tools.Tool) tools.Tool {
		if o == nil {
			return t
		}
		return NewInstrumentedTool(t, o.Metrics, o.Tracer, o.Anomaly)
	}
}

func (t *InstrumentedTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	name := t.Tool.Name()
	device := deviceParam(params)

	if t.tracer != nil {
		var span trace.Span
		ctx, span = t.tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(
				attribute.String("tool.name", name),
				attribute.String("radkit.device", device),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := t.Tool.Execute(ctx, params)
	duration := time.Since(start).Seconds()

	status := Status(err)
	if err != nil && t.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", status))
	}

	if t.metrics != nil {
		t.metrics.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		t.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(duration)
		if status == "rate_limited" {
			t.metrics.RateLimitedTotal.WithLabelValues(name).Inc()
		}
	}

	// Caller mistakes say nothing about device health.
	if t.anomaly != nil && !errors.Is(err, apperr.ErrValidation) {
		op := Operation(name, device)
		if err != nil {
			t.anomaly.RecordError(op)
		} else {
			t.anomaly.RecordSuccess(op)
		}
	}

	return result, err
}

// deviceParam finds the target device under any of the tools' argument names.
func deviceParam(params map[string]any) string {
	for _, key := range []string{"device_name", "target_device"} {
		if s, ok := params[key].(string); ok {
			return s
		}
	}
	return ""
}

// --- ConnectMetrics ---

// ConnectMetrics records service connects. It implements session.ConnectObserver.
type ConnectMetrics struct {
	metrics *MetricsCollector
}

// NewConnectMetrics returns an observer for session.WithObserver.
func NewConnectMetrics(m *MetricsCollector) *ConnectMetrics {
	return &ConnectMetrics{metrics: m}
}

func (c *ConnectMetrics) ObserveConnect(_ string, d time.Duration, err error) {
	if c == nil || c.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, apperr.ErrTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	c.metrics.ServiceConnectsTotal.WithLabelValues(status).Inc()
	c.metrics.ServiceConnectDuration.Observe(d.Seconds())
}

// --- Compile-time interface checks ---

var (
	_ tools.Tool              = (*InstrumentedTool)(nil)
	_ session.ConnectObserver = (*ConnectMetrics)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
