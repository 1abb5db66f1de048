// Package secrets resolves credential references used by the direct backend
// inventory, such as SNMP communities and SSH passwords, so that the
// inventory file never holds secret material itself.
//
// A reference is "<scheme>://<locator>", for example "env://CORE_SNMP_COMMUNITY"
// or "vault://secret/data/network/core#ssh_password".
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jkaninda/radkit-mcp/internal/config"
)

// ErrSecretNotFound is returned when a reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Provider resolves references of a single scheme.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Scheme is the reference prefix the provider handles, without "://".
	Scheme() string
	Resolve(ctx context.Context, ref string) (string, error)
}

// Router dispatches a reference to the provider registered for its scheme.
type Router struct {
	providers map[string]Provider
}

// NewRouter registers providers by scheme. A later provider replaces an
// earlier one with the same scheme.
func NewRouter(providers ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// Resolve returns the secret value behind ref.
func (r *Router) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok || scheme == "" {
		return "", fmt.Errorf("%w: %q is not a secret reference", ErrSecretNotFound, ref)
	}
	p, ok := r.providers[scheme]
	if !ok {
		return "", fmt.Errorf("%w: no provider for scheme %q", ErrSecretNotFound, scheme)
	}
	return p.Resolve(ctx, ref)
}

// FromConfig builds a router from the configured providers. A nil config
// yields an environment-only router.
func FromConfig(cfg *config.SecretsConfig) (*Router, error) {
	if cfg == nil || len(cfg.Providers) == 0 {
		return NewRouter(NewEnvProvider(nil)), nil
	}
	var providers []Provider
	for _, pc := range cfg.Providers {
		switch pc.Type {
		case "env":
			providers = append(providers, NewEnvProvider(nil))
		case "vault":
			vp, err := NewVaultProvider(pc.Config)
			if err != nil {
				return nil, fmt.Errorf("vault secret provider: %w", err)
			}
			providers = append(providers, vp)
		default:
			return nil, fmt.Errorf("unsupported secret provider %q", pc.Type)
		}
	}
	return NewRouter(providers...), nil
}

// EnvProvider resolves "env://NAME" from the process environment.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider returns an environment provider. A nil lookup uses os.LookupEnv.
func NewEnvProvider(lookup func(string) (string, bool)) *EnvProvider {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvProvider{lookup: lookup}
}

func (p *EnvProvider) Scheme() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "env://")
	if !ok || name == "" {
		return "", fmt.Errorf("%w: invalid env reference %q", ErrSecretNotFound, ref)
	}
	v, _ := p.lookup(name)
	if v == "" {
		return "", fmt.Errorf("%w: environment variable %q is not set or empty", ErrSecretNotFound, name)
	}
	return v, nil
}
