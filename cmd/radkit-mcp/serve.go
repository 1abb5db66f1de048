package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/mcpserver"
)

var (
	serveConfigPath string
	serveTransport  string
	serveHost       string
	servePort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio, sse or https)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `radkit-mcp --transport sse` and `radkit-mcp serve --transport sse` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveTransport, "transport", "", "override MCP_TRANSPORT (stdio, sse, https)")
		cmd.Flags().StringVar(&serveHost, "host", "", "override MCP_HOST")
		cmd.Flags().IntVar(&servePort, "port", 0, "override MCP_PORT")
	}
}

// runServe authenticates, connects the default service and serves MCP until
// SIGINT or SIGTERM.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	settings, err := resolveSettings()
	if err != nil {
		return err
	}
	settings = applyOverrides(settings, serveTransport, serveHost, servePort)
	logger.Info("starting radkit-mcp",
		slog.String("version", version),
		slog.Any("settings", settings),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(cfg, settings, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if err := sc.Session.Initialize(ctx, sc.Client); err != nil {
		return err
	}

	mcpCfg := mcpserver.Config{
		Version: version,
		Addr:    settings.Addr(),
	}
	if sc.Obs != nil {
		mcpCfg.Metrics = sc.Obs.Metrics
		mcpCfg.Health = sc.Obs.Health
		if cfg.Observability.Metrics != nil {
			mcpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
		if ts := sc.Obs.TracerOrNil(); ts != nil {
			mcpCfg.Tracer = ts.Tracer()
		}
	}
	srv, err := mcpserver.New(mcpCfg, sc.Tools, logger)
	if err != nil {
		return err
	}

	err = srv.Serve(ctx, settings.Transport, os.Stdin, os.Stdout)
	logger.Info("radkit-mcp stopped")
	return err
}

func loadConfig(path string) (*config.Config, error) {
	return config.LoadOptional(goutils.Env("RADKIT_MCP_CONFIG", path))
}

// newLogger writes to stderr: stdout carries the stdio transport.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func resolveSettings() (*config.Settings, error) {
	return config.NewResolver(nil).Get()
}

// applyOverrides returns a copy of s with the non-zero CLI overrides applied.
func applyOverrides(s *config.Settings, transport, host string, port int) *config.Settings {
	out := *s
	if transport != "" {
		out.Transport = config.Transport(transport)
	}
	if host != "" {
		out.Host = host
	}
	if port > 0 {
		out.Port = port
	}
	return &out
}
