// Package radkit models the device-management client the server talks to.
//
// The interfaces here are the only surface the rest of the server sees: a
// Client logs in and connects to remote services, a Service exposes its
// device inventory, and a Device runs CLI commands and SNMP queries. Calls
// block until the remote side answers; callers decide where they run.
package radkit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceNotFound is returned by Service.Device for an unknown device name.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrServiceNotFound is returned by Client.Service for an unknown serial.
	ErrServiceNotFound = errors.New("service not found")
	// ErrAuthentication is returned by the login calls.
	ErrAuthentication = errors.New("login rejected")
)

// Exec status values reported by devices.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// CertificateLogin carries the material for a certificate login.
type CertificateLogin struct {
	Identity string
	CAPath   string
	CertPath string
	KeyPath  string
	Password string
}

// Client is an authenticated connection to the RADKit cloud.
type Client interface {
	// CertificateLogin authenticates with a client certificate.
	CertificateLogin(ctx context.Context, login CertificateLogin) error
	// Login authenticates interactively as identity.
	Login(ctx context.Context, identity string) error
	// Service connects to the service with the given serial and waits until it is ready.
	Service(ctx context.Context, serial string) (Service, error)
	// Close releases the client.
	Close() error
}

// Service is a remote agent that brokers access to a set of devices.
type Service interface {
	Serial() string
	Inventory(ctx context.Context) ([]Device, error)
	// Device returns ErrDeviceNotFound when name is not in the inventory.
	Device(ctx context.Context, name string) (Device, error)
}

// Device is a single network element reachable through a service.
type Device interface {
	Name() string
	// Attributes returns the device's inventory attributes. Optional
	// attributes are simply absent from the map.
	Attributes(ctx context.Context) (map[string]any, error)
	Exec(ctx context.Context, commands []string, opts ExecOptions) (*ExecResponse, error)
	SNMPGet(ctx context.Context, oids []string, opts SNMPOptions) ([]SNMPRow, error)
}

// ExecOptions controls a CLI execution.
type ExecOptions struct {
	Timeout     time.Duration // 0 = backend default.
	ResetBefore bool          // Reset the terminal before the first command.
	ResetAfter  bool          // Reset the terminal after the last command.
	Sudo        bool          // Run with elevated privileges where supported.
}

// ExecResponse is the outcome of a CLI execution.
type ExecResponse struct {
	Status        string
	StatusMessage string
	Commands      []CommandResult // In request order.
}

// Succeeded reports whether the device accepted the request.
func (r *ExecResponse) Succeeded() bool {
	return r.Status == StatusSuccess
}

// CommandResult is the output of one command.
type CommandResult struct {
	Command string
	Output  string
	Status  string
}

// SNMPOptions controls an SNMP GET.
type SNMPOptions struct {
	Timeout time.Duration // 0 = backend default.
}

// SNMPRow is one varbind of an SNMP response. A row carries either a value
// or an error, never both.
type SNMPRow struct {
	OID   string
	Value any
	Type  string
	Err   string
}

// Failed reports whether the row is an error row.
func (r SNMPRow) Failed() bool {
	return r.Err != ""
}
