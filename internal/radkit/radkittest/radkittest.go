// Package radkittest provides an in-memory radkit.Client for tests.
package radkittest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jkaninda/radkit-mcp/internal/dispatch"
	"github.com/jkaninda/radkit-mcp/internal/radkit"
)

// Client is a scripted radkit.Client.
type Client struct {
	mu       sync.Mutex
	services map[string]*Service

	// LoginErr fails both login calls when set.
	LoginErr error
	// ServiceErr fails Service when set.
	ServiceErr error
	// ServiceHook runs inside Service before it returns; tests use it to block.
	ServiceHook func(serial string)

	CertLogins []radkit.CertificateLogin
	Logins     []string
	connects   atomic.Int64
	closed     atomic.Bool
}

// NewClient returns an empty client.
func NewClient() *Client {
	return &Client{services: make(map[string]*Service)}
}

// AddService registers a service and returns it for further scripting.
func (c *Client) AddService(serial string, devices ...*Device) *Service {
	s := &Service{serial: serial, devices: make(map[string]*Device)}
	for _, d := range devices {
		s.devices[d.name] = d
	}
	c.mu.Lock()
	c.services[serial] = s
	c.mu.Unlock()
	return s
}

// Connects returns how many times Service was called.
func (c *Client) Connects() int { return int(c.connects.Load()) }

// Closed reports whether Close was called.
func (c *Client) Closed() bool { return c.closed.Load() }

func (c *Client) CertificateLogin(_ context.Context, login radkit.CertificateLogin) error {
	c.mu.Lock()
	c.CertLogins = append(c.CertLogins, login)
	c.mu.Unlock()
	return c.LoginErr
}

func (c *Client) Login(_ context.Context, identity string) error {
	c.mu.Lock()
	c.Logins = append(c.Logins, identity)
	c.mu.Unlock()
	return c.LoginErr
}

func (c *Client) Service(_ context.Context, serial string) (radkit.Service, error) {
	c.connects.Add(1)
	if c.ServiceHook != nil {
		c.ServiceHook(serial)
	}
	if c.ServiceErr != nil {
		return nil, c.ServiceErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.services[serial]
	if !ok {
		return nil, fmt.Errorf("%w: %s", radkit.ErrServiceNotFound, serial)
	}
	return s, nil
}

func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

// Service is a scripted radkit.Service.
type Service struct {
	serial  string
	devices map[string]*Device

	// InventoryErr fails Inventory when set.
	InventoryErr error
}

func (s *Service) Serial() string { return s.serial }

func (s *Service) Inventory(_ context.Context) ([]radkit.Device, error) {
	if s.InventoryErr != nil {
		return nil, s.InventoryErr
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

func (s *Service) Device(_ context.Context, name string) (radkit.Device, error) {
	d, ok := s.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", radkit.ErrDeviceNotFound, name)
	}
	return d, nil
}

// Device is a scripted radkit.Device.
type Device struct {
	name  string
	attrs map[string]any

	// ExecFunc answers Exec. When nil, every command echoes "<command> output".
	ExecFunc func(ctx context.Context, commands []string, opts radkit.ExecOptions) (*radkit.ExecResponse, error)
	// SNMPFunc answers SNMPGet. When nil, every OID returns its own name as value.
	SNMPFunc func(ctx context.Context, oids []string, opts radkit.SNMPOptions) ([]radkit.SNMPRow, error)

	mu       sync.Mutex
	LastExec radkit.ExecOptions
	LastSNMP radkit.SNMPOptions
}

// NewDevice returns a device with the given attributes.
func NewDevice(name string, attrs map[string]any) *Device {
	return &Device{name: name, attrs: attrs}
}

func (d *Device) Name() string { return d.name }

func (d *Device) Attributes(_ context.Context) (map[string]any, error) {
	out := make(map[string]any, len(d.attrs))
	for k, v := range d.attrs {
		out[k] = v
	}
	return out, nil
}

func (d *Device) Exec(ctx context.Context, commands []string, opts radkit.ExecOptions) (*radkit.ExecResponse, error) {
	d.mu.Lock()
	d.LastExec = opts
	d.mu.Unlock()
	if d.ExecFunc != nil {
		return d.ExecFunc(ctx, commands, opts)
	}
	resp := &radkit.ExecResponse{Status: radkit.StatusSuccess}
	for _, c := range commands {
		resp.Commands = append(resp.Commands, radkit.CommandResult{
			Command: c,
			Output:  c + " output",
			Status:  radkit.StatusSuccess,
		})
	}
	return resp, nil
}

func (d *Device) SNMPGet(ctx context.Context, oids []string, opts radkit.SNMPOptions) ([]radkit.SNMPRow, error) {
	d.mu.Lock()
	d.LastSNMP = opts
	d.mu.Unlock()
	if d.SNMPFunc != nil {
		return d.SNMPFunc(ctx, oids, opts)
	}
	rows := make([]radkit.SNMPRow, 0, len(oids))
	for _, o := range oids {
		rows = append(rows, radkit.SNMPRow{OID: o, Value: o, Type: "OctetString"})
	}
	return rows, nil
}

// Sessions resolves services straight from a Client, standing in for the
// session manager in tool tests.
type Sessions struct {
	client        *Client
	defaultSerial string
	pool          *dispatch.Pool
}

// NewSessions returns a session lookup that maps "" to defaultSerial.
func NewSessions(c *Client, defaultSerial string) *Sessions {
	return &Sessions{client: c, defaultSerial: defaultSerial, pool: dispatch.NewPool(4)}
}

func (s *Sessions) Service(ctx context.Context, serial string) (radkit.Service, error) {
	if serial == "" {
		serial = s.defaultSerial
	}
	return s.client.Service(ctx, serial)
}

func (s *Sessions) Pool() *dispatch.Pool { return s.pool }
