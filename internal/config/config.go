// Package config handles loading and validating radkit-mcp configuration.
//
// Two sources feed the server: the RADKit settings snapshot resolved from
// environment variables (see Settings), and an optional YAML/JSON file that
// configures the ambient stack (logging, worker pool, rate limits, audit,
// observability, backend and secret providers).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultWorkers        = 16
	defaultCertRoot       = "~/.radkit"
	defaultConnectTimeout = 60 * time.Second
)

// Config is the root file configuration.
type Config struct {
	Log           LogConfig            `json:"log" yaml:"log"`
	Dispatch      DispatchConfig       `json:"dispatch" yaml:"dispatch"`
	RateLimit     *RateLimitConfig     `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`       // nil = unlimited
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = audit disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Backend       BackendConfig        `json:"backend" yaml:"backend"`
	Secrets       *SecretsConfig       `json:"secrets,omitempty" yaml:"secrets,omitempty"`                 // nil = env-only secrets
	LocalCertRoot string               `json:"local_cert_root,omitempty" yaml:"local_cert_root,omitempty"` // Default: ~/.radkit. Override: RADKIT_MCP_CERT_ROOT.
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error. Default: info. Override: RADKIT_MCP_LOG_LEVEL.
	Format string `json:"format" yaml:"format"` // json or text. Default: json.
}

// DispatchConfig sizes the worker pool that runs blocking device calls.
type DispatchConfig struct {
	Workers int `json:"workers" yaml:"workers"` // Default: 16.
}

// RateLimitConfig limits device operations per device.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	Burst             int `json:"burst" yaml:"burst"`                             // 0 = RequestsPerMinute.
}

// AuditConfig configures the JSONL audit trail of device operations.
type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: ~/.radkit-mcp/audit.jsonl. Override: RADKIT_MCP_AUDIT_LOG.
}

// ObservabilityConfig groups metrics, tracing and anomaly detection.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "radkit-mcp"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// AnomalyConfig configures error-rate warnings for device operations.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // 0.0–1.0. 0 = never warn.
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Default: 300.
}

// BackendConfig selects the device-management client binding.
type BackendConfig struct {
	Type                  string `json:"type" yaml:"type"`                                       // "direct" (default).
	Inventory             string `json:"inventory" yaml:"inventory"`                             // Direct backend inventory file. Override: RADKIT_MCP_INVENTORY.
	SNMPRetries           int    `json:"snmp_retries" yaml:"snmp_retries"`                       // Default: 1.
	SSHTimeoutSeconds     int    `json:"ssh_timeout_seconds" yaml:"ssh_timeout_seconds"`         // Dial timeout. Default: 10.
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds"` // Service connect wait. Default: 60; -1 waits forever.
}

// SecretsConfig lists the providers used to resolve device credential references.
type SecretsConfig struct {
	Providers []SecretProviderConfig `json:"providers" yaml:"providers"` // Tried in order.
}

// SecretProviderConfig configures a single secret provider backend.
type SecretProviderConfig struct {
	Type   string            `json:"type" yaml:"type"` // "env" or "vault".
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	return cfg
}

// DefaultConfigPath returns the default config file path (~/.radkit-mcp/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "radkit-mcp.yaml"
	}
	return filepath.Join(home, ".radkit-mcp", "config.yaml")
}

// LoadOptional loads path when it exists and falls back to Default otherwise.
// Used for the implicit default path; an explicit path goes through Load.
func LoadOptional(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}
	if _, err := os.Stat(resolved); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RADKIT_MCP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RADKIT_MCP_AUDIT_LOG"); v != "" {
		if c.Audit == nil {
			c.Audit = &AuditConfig{}
		}
		c.Audit.Enabled = true
		c.Audit.Path = v
	}
	if v := os.Getenv("RADKIT_MCP_CERT_ROOT"); v != "" {
		c.LocalCertRoot = v
	}
	if v := os.Getenv("RADKIT_MCP_INVENTORY"); v != "" {
		c.Backend.Inventory = v
	}
}

func (c *Config) validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format %q is not supported (use json or text)", c.Log.Format)
	}
	if c.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must not be negative")
	}
	if c.RateLimit != nil && (c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0) {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	switch c.Backend.Type {
	case "", "direct":
	default:
		return fmt.Errorf("backend.type %q is not supported (use direct)", c.Backend.Type)
	}
	if c.Backend.SNMPRetries < 0 || c.Backend.SSHTimeoutSeconds < 0 {
		return fmt.Errorf("backend timeouts and retries must not be negative")
	}
	if c.Backend.ConnectTimeoutSeconds < -1 {
		return fmt.Errorf("backend.connect_timeout_seconds must be -1 (no bound) or more")
	}
	if c.Secrets != nil {
		for i, p := range c.Secrets.Providers {
			switch p.Type {
			case "env", "vault":
			default:
				return fmt.Errorf("secrets.providers[%d].type %q is not supported (use env or vault)", i, p.Type)
			}
		}
	}
	if o := c.Observability; o != nil && o.Tracing != nil && o.Tracing.Enabled {
		if o.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch o.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", o.Tracing.Protocol)
		}
	}
	return nil
}

// Workers returns the worker pool size. Defaults to 16.
func (c *Config) Workers() int {
	if c.Dispatch.Workers > 0 {
		return c.Dispatch.Workers
	}
	return defaultWorkers
}

// ConnectTimeout returns how long a caller waits for a service connect.
// 0 means no bound.
func (c *Config) ConnectTimeout() time.Duration {
	switch n := c.Backend.ConnectTimeoutSeconds; {
	case n < 0:
		return 0
	case n == 0:
		return defaultConnectTimeout
	default:
		return time.Duration(n) * time.Second
	}
}

// SlogLevel returns the configured log level. Unknown values were rejected by validate.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.Log.Level)
	return lvl
}

// CertRoot returns the resolved root of the local certificate directory.
func (c *Config) CertRoot() string {
	root := c.LocalCertRoot
	if root == "" {
		root = defaultCertRoot
	}
	resolved, err := resolvePath(root)
	if err != nil {
		return root
	}
	return resolved
}

// AuditLogPath returns the audit log path, or "" when auditing is disabled.
func (c *Config) AuditLogPath() string {
	if c.Audit == nil || !c.Audit.Enabled {
		return ""
	}
	if c.Audit.Path != "" {
		if p, err := resolvePath(c.Audit.Path); err == nil {
			return p
		}
		return c.Audit.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "audit.jsonl"
	}
	return filepath.Join(home, ".radkit-mcp", "audit.jsonl")
}

// InventoryPath returns the resolved direct-backend inventory path, or "".
func (c *Config) InventoryPath() string {
	if c.Backend.Inventory == "" {
		return ""
	}
	p, err := resolvePath(c.Backend.Inventory)
	if err != nil {
		return c.Backend.Inventory
	}
	return p
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not supported", s)
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
