package secrets

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// VaultProvider reads string fields from HashiCorp Vault KV v2.
// Reference format: "vault://<kv v2 api path>#<field>", e.g.
// "vault://secret/data/network/core#snmp_community". The field is required:
// device credentials are always single values.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider creates a provider from config keys address, token,
// namespace, timeout and tls_skip_verify. VAULT_ADDR, VAULT_TOKEN and
// VAULT_NAMESPACE override the matching keys.
func NewVaultProvider(cfg map[string]string) (*VaultProvider, error) {
	pick := func(key, env string) string {
		if v := os.Getenv(env); v != "" {
			return v
		}
		return cfg[key]
	}

	address := strings.TrimRight(pick("address", "VAULT_ADDR"), "/")
	if address == "" {
		return nil, fmt.Errorf("vault address is required (set config key 'address' or VAULT_ADDR)")
	}
	token := pick("token", "VAULT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set config key 'token' or VAULT_TOKEN)")
	}

	timeout := 5 * time.Second
	if t := cfg["timeout"]; t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("invalid vault timeout %q: %w", t, err)
		}
		timeout = d
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg["tls_skip_verify"] == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   address,
		token:     token,
		namespace: pick("namespace", "VAULT_NAMESPACE"),
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (p *VaultProvider) Scheme() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, "vault://")
	if !ok {
		return "", fmt.Errorf("%w: invalid vault reference %q", ErrSecretNotFound, ref)
	}
	path, field, _ := strings.Cut(raw, "#")
	if path == "" || field == "" {
		return "", fmt.Errorf("%w: vault reference %q needs a path and a #field", ErrSecretNotFound, ref)
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return "", err
	}
	val, ok := data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q not found in vault path %q", ErrSecretNotFound, field, path)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("vault field %q in path %q is not a string", field, path)
	}
	return str, nil
}

// read fetches the data map of a KV v2 secret.
func (p *VaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("vault access denied for path %q (check token permissions)", path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading vault response: %w", err)
	}
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vault response: %w", err)
	}
	if envelope.Data.Data == nil {
		return nil, fmt.Errorf("%w: vault path %q returned no data", ErrSecretNotFound, path)
	}
	return envelope.Data.Data, nil
}
