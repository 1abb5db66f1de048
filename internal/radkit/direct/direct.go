// Package direct is a radkit.Client that reaches devices itself: CLI over
// SSH and SNMP over UDP, with the device list taken from an inventory file.
// It lets the server run where the RADKit cloud service is not available,
// such as lab networks and tests.
package direct

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jkaninda/radkit-mcp/internal/radkit"
)

// SecretResolver resolves credential references such as "env://NAME".
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Options tunes the client.
type Options struct {
	SNMPRetries int           // Default: 1.
	DialTimeout time.Duration // SSH dial timeout. Default: 10s.
	Logger      *slog.Logger
}

// Client implements radkit.Client over an Inventory.
type Client struct {
	inv     *Inventory
	secrets SecretResolver
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	identity string
}

// New creates a client. secrets may be nil when no device needs credentials.
func New(inv *Inventory, secrets SecretResolver, opts Options) *Client {
	if opts.SNMPRetries <= 0 {
		opts.SNMPRetries = 1
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{inv: inv, secrets: secrets, opts: opts, logger: logger}
}

// CertificateLogin checks that the certificate material parses: the CA chain
// and client certificate must be PEM X.509, the key file must exist and a
// password must be supplied.
func (c *Client) CertificateLogin(_ context.Context, login radkit.CertificateLogin) error {
	if login.Identity == "" {
		return fmt.Errorf("%w: identity is required", radkit.ErrAuthentication)
	}
	if _, err := readCertificates(login.CAPath); err != nil {
		return fmt.Errorf("%w: CA chain: %v", radkit.ErrAuthentication, err)
	}
	certs, err := readCertificates(login.CertPath)
	if err != nil {
		return fmt.Errorf("%w: client certificate: %v", radkit.ErrAuthentication, err)
	}
	if _, err := os.Stat(login.KeyPath); err != nil {
		return fmt.Errorf("%w: private key: %v", radkit.ErrAuthentication, err)
	}
	if login.Password == "" {
		return fmt.Errorf("%w: private key password is empty", radkit.ErrAuthentication)
	}

	c.setIdentity(login.Identity)
	c.logger.Info("certificate login",
		slog.String("identity", login.Identity),
		slog.String("subject", certs[0].Subject.String()),
		slog.Time("not_after", certs[0].NotAfter),
	)
	return nil
}

// Login accepts any non-empty identity.
func (c *Client) Login(_ context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("%w: identity is required", radkit.ErrAuthentication)
	}
	c.setIdentity(identity)
	c.logger.Info("interactive login", slog.String("identity", identity))
	return nil
}

func (c *Client) setIdentity(identity string) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
}

func (c *Client) loggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity != ""
}

// Service returns the inventory entry for serial.
func (c *Client) Service(ctx context.Context, serial string) (radkit.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.loggedIn() {
		return nil, fmt.Errorf("%w: not logged in", radkit.ErrAuthentication)
	}
	spec, ok := c.inv.Services[serial]
	if !ok {
		return nil, fmt.Errorf("%w: %s", radkit.ErrServiceNotFound, serial)
	}
	svc := &service{serial: serial, devices: make(map[string]*device, len(spec.Devices))}
	for _, d := range spec.Devices {
		svc.devices[d.Name] = &device{spec: d, client: c}
	}
	return svc, nil
}

func (c *Client) Close() error {
	c.setIdentity("")
	return nil
}

func readCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no PEM certificate in %s", path)
	}
	return certs, nil
}

type service struct {
	serial  string
	devices map[string]*device
}

func (s *service) Serial() string { return s.serial }

func (s *service) Inventory(ctx context.Context) ([]radkit.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.devices))
	for n := range s.devices {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]radkit.Device, 0, len(names))
	for _, n := range names {
		out = append(out, s.devices[n])
	}
	return out, nil
}

func (s *service) Device(_ context.Context, name string) (radkit.Device, error) {
	d, ok := s.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", radkit.ErrDeviceNotFound, name)
	}
	return d, nil
}

type device struct {
	spec   DeviceSpec
	client *Client
}

func (d *device) Name() string { return d.spec.Name }

// Attributes reports the inventory fields that are set, plus free-form extras.
// Built-in fields win over extras with the same key.
func (d *device) Attributes(_ context.Context) (map[string]any, error) {
	attrs := make(map[string]any, len(d.spec.Attributes)+6)
	for k, v := range d.spec.Attributes {
		attrs[k] = v
	}
	attrs["host"] = d.spec.Host
	if d.spec.DeviceType != "" {
		attrs["device_type"] = d.spec.DeviceType
	}
	if d.spec.Description != "" {
		attrs["description"] = d.spec.Description
	}
	if len(d.spec.TerminalCapabilities) > 0 {
		attrs["terminal_capabilities"] = d.spec.TerminalCapabilities
	}
	if d.spec.ForwardedTCPPorts != "" {
		attrs["forwarded_tcp_ports"] = d.spec.ForwardedTCPPorts
	}
	return attrs, nil
}

func (d *device) resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if d.client.secrets == nil {
		return "", fmt.Errorf("device %s: no secret provider configured for %q", d.spec.Name, ref)
	}
	v, err := d.client.secrets.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("device %s: %w", d.spec.Name, err)
	}
	return v, nil
}
