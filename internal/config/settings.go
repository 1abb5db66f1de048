package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
)

// Environment variable names. Aliases are consulted only when the primary
// variable is empty.
const (
	EnvIdentity            = "RADKIT_IDENTITY"
	EnvIdentityAlias       = "RADKIT_SERVICE_USERNAME"
	EnvServiceSerial       = "RADKIT_DEFAULT_SERVICE_SERIAL"
	EnvServiceSerialAlias  = "RADKIT_SERVICE_CODE"
	EnvCertB64             = "RADKIT_CERT_B64"
	EnvKeyB64              = "RADKIT_KEY_B64"
	EnvCAB64               = "RADKIT_CA_B64"
	EnvKeyPasswordB64      = "RADKIT_KEY_PASSWORD_B64"
	EnvKeyPasswordB64Alias = "RADKIT_CLIENT_PRIVATE_KEY_PASSWORD_BASE64"
	EnvTransport           = "MCP_TRANSPORT"
	EnvHost                = "MCP_HOST"
	EnvPort                = "MCP_PORT"
)

// Variable pairs as named in error messages.
const (
	IdentityVariables      = EnvIdentity + " (or " + EnvIdentityAlias + ")"
	ServiceSerialVariables = EnvServiceSerial + " (or " + EnvServiceSerialAlias + ")"
	KeyPasswordVariables   = EnvKeyPasswordB64 + " (or " + EnvKeyPasswordB64Alias + ")"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8000
)

// Transport selects how the MCP server is exposed.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTPS Transport = "https"
	TransportSSE   Transport = "sse"
)

// Network reports whether the transport listens on host:port.
func (t Transport) Network() bool {
	return t == TransportHTTPS || t == TransportSSE
}

// Settings is an immutable snapshot of the environment-provided settings.
// Empty strings mean "absent".
type Settings struct {
	RadkitIdentity       string
	ServiceUsername      string
	DefaultServiceSerial string
	ServiceCode          string
	CertB64              string
	KeyB64               string
	CAB64                string
	KeyPasswordB64       string
	ClientKeyPasswordB64 string
	Transport            Transport
	Host                 string
	Port                 int
}

// Identity returns the login identity, preferring RADKIT_IDENTITY over its alias.
func (s *Settings) Identity() string {
	return firstPresent(s.RadkitIdentity, s.ServiceUsername)
}

// ServiceSerial returns the default service serial, preferring
// RADKIT_DEFAULT_SERVICE_SERIAL over its alias.
func (s *Settings) ServiceSerial() string {
	return firstPresent(s.DefaultServiceSerial, s.ServiceCode)
}

// KeyPassword returns the base64-encoded private key password, preferring
// RADKIT_KEY_PASSWORD_B64 over its alias.
func (s *Settings) KeyPassword() string {
	return firstPresent(s.KeyPasswordB64, s.ClientKeyPasswordB64)
}

// HasBase64Credentials reports whether all four base64 credential values are present.
func (s *Settings) HasBase64Credentials() bool {
	return s.CertB64 != "" && s.KeyB64 != "" && s.CAB64 != "" && s.KeyPassword() != ""
}

// Addr returns the host:port the network transports listen on.
func (s *Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LogValue implements slog.LogValuer. Secret-bearing values are reported
// only as present or absent.
func (s *Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("identity", s.Identity()),
		slog.String("service_serial", s.ServiceSerial()),
		slog.Bool("cert_b64", s.CertB64 != ""),
		slog.Bool("key_b64", s.KeyB64 != ""),
		slog.Bool("ca_b64", s.CAB64 != ""),
		slog.Bool("key_password", s.KeyPassword() != ""),
		slog.String("transport", string(s.Transport)),
		slog.String("addr", s.Addr()),
	)
}

func firstPresent(primary, alias string) string {
	if primary != "" {
		return primary
	}
	return alias
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromLookup resolves a fresh snapshot from lookup without touching any cache.
func FromLookup(lookup LookupFunc) (*Settings, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	s := &Settings{
		RadkitIdentity:       get(EnvIdentity),
		ServiceUsername:      get(EnvIdentityAlias),
		DefaultServiceSerial: get(EnvServiceSerial),
		ServiceCode:          get(EnvServiceSerialAlias),
		CertB64:              get(EnvCertB64),
		KeyB64:               get(EnvKeyB64),
		CAB64:                get(EnvCAB64),
		KeyPasswordB64:       get(EnvKeyPasswordB64),
		ClientKeyPasswordB64: get(EnvKeyPasswordB64Alias),
		Transport:            TransportStdio,
		Host:                 DefaultHost,
		Port:                 DefaultPort,
	}

	if v := get(EnvTransport); v != "" {
		switch t := Transport(strings.ToLower(v)); t {
		case TransportStdio, TransportHTTPS, TransportSSE:
			s.Transport = t
		default:
			return nil, fmt.Errorf("%w: %s=%q is not supported (use stdio, sse or https)",
				apperr.ErrConfiguration, EnvTransport, v)
		}
	}
	if v := get(EnvHost); v != "" {
		s.Host = v
	}
	if v := get(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: %s=%q is not a valid port",
				apperr.ErrConfiguration, EnvPort, v)
		}
		s.Port = port
	}
	return s, nil
}

// Resolver caches the process-wide settings snapshot.
// Get resolves once; Reload replaces the snapshot and exists for test isolation.
type Resolver struct {
	lookup LookupFunc

	mu      sync.Mutex
	current *Settings
}

// NewResolver creates a resolver reading from lookup. A nil lookup reads the
// process environment.
func NewResolver(lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Resolver{lookup: lookup}
}

// Get returns the cached snapshot, resolving it on first use.
// Every successful call returns the same pointer until Reload.
func (r *Resolver) Get() (*Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return r.current, nil
	}
	s, err := FromLookup(r.lookup)
	if err != nil {
		return nil, err
	}
	r.current = s
	return s, nil
}

// Reload re-resolves from the current environment and replaces the snapshot.
// On error the previous snapshot is kept.
func (r *Resolver) Reload() (*Settings, error) {
	s, err := FromLookup(r.lookup)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()
	return s, nil
}
