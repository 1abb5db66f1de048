// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// health checks, and error-rate anomaly detection for the MCP server.
// All components are optional and nil-safe. When disabled, wrappers
// skip recording with a single nil check per operation.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/dispatch"
	"github.com/jkaninda/radkit-mcp/internal/session"
)

// ServerInfo describes the running server for trace resources.
type ServerInfo struct {
	Version       string
	Identity      string
	ServiceSerial string
	Transport     string
}

// ServerInfoFrom builds a ServerInfo from resolved settings.
func ServerInfoFrom(version string, s *config.Settings) ServerInfo {
	info := ServerInfo{Version: version}
	if s != nil {
		info.Identity = s.Identity()
		info.ServiceSerial = s.ServiceSerial()
		info.Transport = string(s.Transport)
	}
	return info
}

// Observability is the top-level facade holding all observability components.
// Any field may be nil when that feature is disabled.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker
}

// New creates an Observability instance from config.
// Returns nil when the config is nil (all features disabled).
func New(cfg *config.ObservabilityConfig, info ServerInfo, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}

	obs := &Observability{Health: NewHealthChecker(logger)}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing, info)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		obs.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}
	return obs, nil
}

// SessionOptions returns the session options that report service connects
// to the metrics collector. Empty when metrics are disabled.
func (o *Observability) SessionOptions() []session.Option {
	if o == nil || o.Metrics == nil {
		return nil
	}
	return []session.Option{session.WithObserver(NewConnectMetrics(o.Metrics))}
}

// WatchSession makes readiness depend on the session reaching its default
// service.
func (o *Observability) WatchSession(m *session.Manager) {
	if o == nil || o.Health == nil || m == nil {
		return
	}
	o.Health.AddCheck("session", m.Ready)
}

// WatchPool exports the worker pool's size and occupancy.
func (o *Observability) WatchPool(p *dispatch.Pool) {
	if o == nil || p == nil {
		return
	}
	o.Metrics.RegisterPoolGauges(p.Size, p.InFlight)
}

// Shutdown flushes pending spans.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if o.Tracer != nil {
		_ = o.Tracer.Shutdown(ctx)
	}
}

// TracerOrNil returns the OTel tracer or nil if tracing is disabled.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}
