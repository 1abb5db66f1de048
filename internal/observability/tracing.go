package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/radkit-mcp/internal/config"
)

// TracerSetup holds the OTel TracerProvider and a named tracer.
// Not set as global; injected by the caller.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Resource attribute keys describing the RADKit session behind the server.
const (
	AttrIdentity      = attribute.Key("radkit.identity")
	AttrServiceSerial = attribute.Key("radkit.service_serial")
	AttrTransport     = attribute.Key("mcp.transport")
)

// NewTracerSetup creates an OTel TracerProvider with an OTLP exporter. Every
// span carries the server version, RADKit identity, default service serial
// and MCP transport from info as resource attributes.
func NewTracerSetup(cfg *config.TracingConfig, info ServerInfo) (*TracerSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	ctx := context.Background()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "radkit-mcp"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(resourceAttributes(serviceName, info)...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default: // "grpc" or empty
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)

	return &TracerSetup{
		provider: tp,
		tracer:   tp.Tracer(serviceName),
	}, nil
}

func resourceAttributes(serviceName string, info ServerInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}
	if info.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(info.Version))
	}
	if info.Identity != "" {
		attrs = append(attrs, AttrIdentity.String(info.Identity))
	}
	if info.ServiceSerial != "" {
		attrs = append(attrs, AttrServiceSerial.String(info.ServiceSerial))
	}
	if info.Transport != "" {
		attrs = append(attrs, AttrTransport.String(info.Transport))
	}
	return attrs
}

// Tracer returns the named tracer for creating spans.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t.tracer
}

// Shutdown flushes any pending spans and shuts down the TracerProvider.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
