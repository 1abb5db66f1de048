package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/radkit-mcp/internal/audit"
	"github.com/jkaninda/radkit-mcp/internal/auth"
	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/dispatch"
	"github.com/jkaninda/radkit-mcp/internal/observability"
	"github.com/jkaninda/radkit-mcp/internal/radkit"
	"github.com/jkaninda/radkit-mcp/internal/radkit/direct"
	"github.com/jkaninda/radkit-mcp/internal/ratelimit"
	"github.com/jkaninda/radkit-mcp/internal/secrets"
	"github.com/jkaninda/radkit-mcp/internal/session"
	"github.com/jkaninda/radkit-mcp/internal/tools"
	"github.com/jkaninda/radkit-mcp/internal/tools/exec"
	"github.com/jkaninda/radkit-mcp/internal/tools/inventory"
	"github.com/jkaninda/radkit-mcp/internal/tools/snmp"
)

// SharedComponents holds the initialized subsystems of a serving process.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Settings *config.Settings
	Logger   *slog.Logger

	Obs     *observability.Observability
	Client  radkit.Client
	Pool    *dispatch.Pool
	Session *session.Manager
	Audit   *audit.Logger // nil = audit disabled.
	Tools   *tools.Registry

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared wires everything the tools need. The session is created but not
// initialized. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, settings *config.Settings, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config:   cfg,
		Settings: settings,
		Logger:   logger,
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, observability.ServerInfoFrom(version, settings), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Backend client.
	client, err := newBackend(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing backend: %w", err)
	}
	sc.Client = client
	sc.addCleanup(func() {
		if err := client.Close(); err != nil {
			logger.Error("closing client", slog.String("error", err.Error()))
		}
	})

	// Worker pool for blocking device calls.
	sc.Pool = dispatch.NewPool(cfg.Workers())
	obs.WatchPool(sc.Pool)
	logger.Debug("dispatch pool initialized", slog.Int("workers", sc.Pool.Size()))

	// Session.
	opts := append(obs.SessionOptions(), session.WithConnectTimeout(cfg.ConnectTimeout()))
	sc.Session = session.NewManager(settings, auth.Selector{Root: cfg.CertRoot()}, sc.Pool, logger, opts...)
	sc.addCleanup(sc.Session.Shutdown)
	obs.WatchSession(sc.Session)

	// Audit trail.
	if path := cfg.AuditLogPath(); path != "" {
		al, err := audit.Open(path, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("initializing audit log: %w", err)
		}
		sc.Audit = al
		sc.addCleanup(func() {
			if err := al.Close(); err != nil {
				logger.Error("closing audit log", slog.String("error", err.Error()))
			}
		})
		logger.Debug("audit log initialized", slog.String("path", path))
	}

	// Rate limiting.
	var limiter *ratelimit.Limiter
	if rl := cfg.RateLimit; rl != nil && rl.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.Burst,
		})
		logger.Debug("rate limiter initialized",
			slog.Int("requests_per_minute", rl.RequestsPerMinute),
			slog.Int("burst", rl.Burst),
		)
	}

	guard := &tools.Guard{Limiter: limiter, Audit: sc.Audit, Logger: logger}
	sc.Tools = registerTools(sc.Session, guard, logger)
	sc.Tools.Wrap(obs.Instrument())

	return sc, nil
}

// registerTools builds the tool registry on top of sessions.
func registerTools(sessions tools.SessionProvider, guard *tools.Guard, logger *slog.Logger) *tools.Registry {
	reg := tools.NewRegistry()

	inv := inventory.New(sessions, logger)
	reg.Register(inventory.NewNamesTool(inv))
	reg.Register(inventory.NewAttributesTool(inv))

	executor := exec.New(sessions, guard, logger)
	reg.Register(exec.NewCommandTool(executor))
	reg.Register(exec.NewCLITool(executor))

	reg.Register(snmp.NewTool(snmp.New(sessions, guard, logger)))

	logger.Debug("tools registered", slog.Any("tools", reg.List()))
	return reg
}

// newBackend creates the client selected by backend.type.
func newBackend(cfg *config.Config, logger *slog.Logger) (radkit.Client, error) {
	switch cfg.Backend.Type {
	case "", "direct":
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend.Type)
	}

	inv := &direct.Inventory{}
	if path := cfg.InventoryPath(); path != "" {
		loaded, err := direct.LoadInventory(path)
		if err != nil {
			return nil, err
		}
		inv = loaded
		logger.Debug("inventory loaded",
			slog.String("path", path),
			slog.Int("services", len(inv.Services)),
		)
	} else {
		logger.Warn("no backend inventory configured; every service connect will fail",
			slog.String("hint", "set backend.inventory or RADKIT_MCP_INVENTORY"),
		)
	}

	router, err := secrets.FromConfig(cfg.Secrets)
	if err != nil {
		return nil, err
	}

	return direct.New(inv, router, direct.Options{
		SNMPRetries: cfg.Backend.SNMPRetries,
		DialTimeout: time.Duration(cfg.Backend.SSHTimeoutSeconds) * time.Second,
		Logger:      logger,
	}), nil
}
