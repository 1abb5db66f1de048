// Package mcpserver exposes the tool registry over the Model Context Protocol.
//
// Transports:
//   - stdio: JSON-RPC on stdin/stdout (logs must go to stderr)
//   - sse/https: mcp-go SSE server mounted on an okapi HTTP server, next to
//     /healthz, /readyz and the Prometheus endpoint
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/jkaninda/okapi"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/radkit-mcp/internal/audit"
	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/observability"
	"github.com/jkaninda/radkit-mcp/internal/tools"
)

// ServerName is reported in the initialize response.
const ServerName = "RADKit MCP Server"

const (
	sseEndpoint     = "/sse"
	messageEndpoint = "/message"
)

// Config configures the MCP server and its HTTP transport.
type Config struct {
	Version string
	Addr    string // host:port for sse/https.

	// Observability
	Metrics     *observability.MetricsCollector // nil = no /metrics and no HTTP metrics.
	MetricsPath string                          // Default: "/metrics".
	Health      *observability.HealthChecker    // nil = /readyz always ok.
	Tracer      trace.Tracer
}

// Server adapts a tools.Registry to mcp-go.
type Server struct {
	config Config
	logger *slog.Logger
	mcp    *server.MCPServer

	sse    *server.SSEServer
	okapi  *okapi.Okapi
	server *http.Server
}

// New registers every tool of registry on a new MCP server.
func New(cfg Config, registry *tools.Registry, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		config: cfg,
		logger: logger,
		mcp: server.NewMCPServer(ServerName, cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	for _, t := range registry.All() {
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("encoding input schema of %s: %w", t.Name(), err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema), s.handler(t))
	}
	logger.Info("mcp tools registered", slog.Any("tools", registry.List()))
	return s, nil
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// handler runs t for one tools/call request. Tool failures are returned as
// error results carrying the error text, never as protocol errors.
func (s *Server) handler(t tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = audit.WithCorrelationID(ctx)
		params := req.GetArguments()
		if params == nil {
			params = map[string]any{}
		}

		if err := t.Validate(params); err != nil {
			s.logger.InfoContext(ctx, "tool call rejected",
				slog.String("tool", t.Name()),
				slog.String("correlation_id", audit.CorrelationID(ctx)),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError(err.Error()), nil
		}

		start := time.Now()
		result, err := t.Execute(ctx, params)
		if err != nil {
			s.logger.WarnContext(ctx, "tool call failed",
				slog.String("tool", t.Name()),
				slog.String("correlation_id", audit.CorrelationID(ctx)),
				slog.String("status", observability.Status(err)),
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.DebugContext(ctx, "tool call completed",
			slog.String("tool", t.Name()),
			slog.String("correlation_id", audit.CorrelationID(ctx)),
			slog.Duration("duration", time.Since(start)),
		)
		return mcp.NewToolResultText(result.Output), nil
	}
}

// Serve runs the server on transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport config.Transport, in io.Reader, out io.Writer) error {
	switch transport {
	case config.TransportStdio, "":
		return s.ServeStdio(ctx, in, out)
	case config.TransportSSE, config.TransportHTTPS:
		return s.ServeSSE(ctx)
	}
	return fmt.Errorf("unsupported transport %q", transport)
}

// ServeStdio serves JSON-RPC on in/out until ctx is canceled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server starting", slog.String("transport", string(config.TransportStdio)))
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ServeSSE runs the HTTP transport until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) ServeSSE(ctx context.Context) error {
	s.routes()

	// No WriteTimeout: SSE streams stay open for the whole client session.
	s.server = &http.Server{
		Addr:              s.config.Addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("mcp server starting",
		slog.String("transport", "sse"),
		slog.String("addr", s.config.Addr),
		slog.String("sse_endpoint", sseEndpoint),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- s.okapi.StartServer(s.server) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// routes mounts the SSE transport and the observability endpoints.
func (s *Server) routes() {
	s.sse = server.NewSSEServer(s.mcp,
		server.WithSSEEndpoint(sseEndpoint),
		server.WithMessageEndpoint(messageEndpoint),
		server.WithKeepAlive(true),
	)
	s.okapi = okapi.New()

	metricsPath := s.config.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if s.config.Metrics != nil || s.config.Tracer != nil {
		routes := observability.Routes{SSE: sseEndpoint, Message: messageEndpoint}
		if s.config.Metrics != nil {
			routes.Metrics = metricsPath
		}
		s.okapi.Use(observability.TransportMiddleware(s.config.Metrics, s.config.Tracer, routes))
	}

	s.okapi.HandleStd("GET", sseEndpoint, s.sse.SSEHandler().ServeHTTP)
	s.okapi.HandleStd("POST", messageEndpoint, s.sse.MessageHandler().ServeHTTP)

	// Observability endpoints.
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)
	if s.config.Metrics != nil {
		s.okapi.HandleStd("GET", metricsPath, promhttp.HandlerFor(s.config.Metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}
}

// Stop closes SSE sessions and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("mcp server stopping")
	if s.sse != nil {
		if err := s.sse.Shutdown(ctx); err != nil {
			s.logger.Warn("closing sse sessions", slog.String("error", err.Error()))
		}
	}
	return s.okapi.Shutdown(s.server)
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the liveness probe.
func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	code, status := Readiness(c.Context(), s.config.Health)
	return c.JSON(code, status)
}

// Readiness evaluates h and returns the HTTP status code to answer with.
func Readiness(ctx context.Context, h *observability.HealthChecker) (int, observability.HealthStatus) {
	if h == nil {
		return http.StatusOK, observability.HealthStatus{Status: "ok"}
	}
	status := h.CheckReady(ctx)
	if status.Status != "ok" {
		return http.StatusServiceUnavailable, status
	}
	return http.StatusOK, status
}
