// Package session owns the authenticated client, the credential bundle that
// backs it and a cache of connected services.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/auth"
	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/credentials"
	"github.com/jkaninda/radkit-mcp/internal/dispatch"
	"github.com/jkaninda/radkit-mcp/internal/radkit"
)

// ConnectObserver receives the outcome of each service connect. Optional.
type ConnectObserver interface {
	ObserveConnect(serial string, d time.Duration, err error)
}

// Manager is the session object handed to the tool operations.
type Manager struct {
	settings *config.Settings
	selector auth.Selector
	pool     *dispatch.Pool
	logger   *slog.Logger
	observer ConnectObserver

	connectTimeout time.Duration

	mu       sync.RWMutex
	client   radkit.Client
	bundle   *credentials.Bundle
	mode     auth.Mode
	services map[string]radkit.Service

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver reports connect outcomes to o.
func WithObserver(o ConnectObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// WithConnectTimeout bounds how long a caller waits for a service connect.
// 0 (the default) waits until the backend answers.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.connectTimeout = d }
}

// NewManager creates an uninitialized manager.
func NewManager(settings *config.Settings, selector auth.Selector, pool *dispatch.Pool, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		settings: settings,
		selector: selector,
		pool:     pool,
		logger:   logger,
		services: make(map[string]radkit.Service),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Initialize authenticates client and eagerly connects the default service.
// Identity and default service serial are required. A failure in the selected
// authentication mode is returned as is; lower-priority modes are not tried.
// A failed eager connect is only logged: the next Service call retries.
func (m *Manager) Initialize(ctx context.Context, client radkit.Client) error {
	identity := m.settings.Identity()
	if identity == "" {
		return fmt.Errorf("%w: %s is required", apperr.ErrConfiguration, config.IdentityVariables)
	}
	serial := m.settings.ServiceSerial()
	if serial == "" {
		return fmt.Errorf("%w: %s is required", apperr.ErrConfiguration, config.ServiceSerialVariables)
	}

	mode, err := m.selector.Select(m.settings)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "authentication mode selected",
		slog.String("mode", mode.String()),
		slog.String("identity", identity),
	)

	var bundle *credentials.Bundle
	if mode.UsesCertificate() {
		bundle, err = m.selector.Load(mode, m.settings, credentials.Options{Logger: m.logger})
		if err != nil {
			return err
		}
		err = client.CertificateLogin(ctx, radkit.CertificateLogin{
			Identity: identity,
			CAPath:   bundle.CAPath,
			CertPath: bundle.CertPath,
			KeyPath:  bundle.KeyPath,
			Password: bundle.Password,
		})
	} else {
		err = client.Login(ctx, identity)
	}
	if err != nil {
		if bundle != nil {
			_ = bundle.Cleanup()
		}
		return fmt.Errorf("%w: %s login as %s: %v", apperr.ErrAuthentication, mode, identity, err)
	}

	m.mu.Lock()
	m.client = client
	m.bundle = bundle
	m.mode = mode
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session initialized",
		slog.String("mode", mode.String()),
		slog.String("default_service", serial),
	)

	if _, err := m.Service(ctx, ""); err != nil {
		m.logger.WarnContext(ctx, "default service not reachable yet",
			slog.String("service", serial),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Service returns the connected service for serial, or for the default
// serial when serial is empty. Each serial is connected at most once;
// concurrent first callers share a single connect. Failures are not cached.
//
// A caller that gives up (ctx done or connect timeout) only abandons its
// wait. The connect itself runs to completion and a successful handle is
// cached, so later callers reuse it instead of connecting again.
func (m *Manager) Service(ctx context.Context, serial string) (radkit.Service, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return nil, apperr.ErrState
	}

	target := serial
	if target == "" {
		target = m.settings.ServiceSerial()
	}
	if target == "" {
		return nil, fmt.Errorf("%w: no service serial given and %s is not set", apperr.ErrConfiguration, config.ServiceSerialVariables)
	}

	if svc, ok := m.cached(target); ok {
		return svc, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(target, func() (any, error) {
		if svc, ok := m.cached(target); ok {
			return svc, nil
		}
		return m.connect(detached, client, target)
	})

	var expired <-chan time.Time
	if m.connectTimeout > 0 {
		timer := time.NewTimer(m.connectTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: service %s: %v", apperr.ErrConnection, target, res.Err)
		}
		return res.Val.(radkit.Service), nil
	case <-expired:
		return nil, fmt.Errorf("connecting to service %s: %w: no connection within %s", target, apperr.ErrTimeout, m.connectTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: service %s: %v", apperr.ErrConnection, target, ctx.Err())
	}
}

// connect runs one connect on the pool and caches the handle on success.
// It always waits for the backend, so the singleflight key stays held
// until the connect has finished.
func (m *Manager) connect(ctx context.Context, client radkit.Client, target string) (radkit.Service, error) {
	start := time.Now()
	svc, err := dispatch.Run(ctx, m.pool, 0, func(ctx context.Context) (radkit.Service, error) {
		return client.Service(ctx, target)
	})
	if m.observer != nil {
		m.observer.ObserveConnect(target, time.Since(start), err)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "service connect failed",
			slog.String("service", target),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	m.mu.Lock()
	m.services[target] = svc
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "service connected", slog.String("service", target))
	return svc, nil
}

func (m *Manager) cached(serial string) (radkit.Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[serial]
	return svc, ok
}

// Pool returns the worker pool device calls run on.
func (m *Manager) Pool() *dispatch.Pool { return m.pool }

// Initialized reports whether Initialize succeeded.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Mode returns the authentication mode in use, or 0 before Initialize.
func (m *Manager) Mode() auth.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Services returns the serials of the connected services, sorted.
func (m *Manager) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.services))
	for s := range m.services {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Ready is a readiness check: the session is initialized and the default
// service is connected.
func (m *Manager) Ready(ctx context.Context) error {
	if !m.Initialized() {
		return apperr.ErrState
	}
	_, err := m.Service(ctx, "")
	return err
}

// Shutdown erases credential files created for the session. It does not
// close the client, which belongs to the caller. Safe to call repeatedly.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	bundle := m.bundle
	m.bundle = nil
	m.mu.Unlock()
	if bundle == nil {
		return
	}
	if err := bundle.Cleanup(); err != nil {
		m.logger.Warn("credential cleanup incomplete", slog.String("error", err.Error()))
		return
	}
	m.logger.Info("credential files removed", slog.Int("files", len(bundle.Created())))
}
