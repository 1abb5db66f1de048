// Package snmp implements SNMP GET against inventory devices.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/dispatch"
	"github.com/jkaninda/radkit-mcp/internal/radkit"
	"github.com/jkaninda/radkit-mcp/internal/tools"
)

// DefaultTimeout bounds an SNMP GET when the caller gives no timeout.
const DefaultTimeout = 10 * time.Second

// Request is one SNMP GET against one device.
type Request struct {
	Device  string
	OIDs    []string
	Serial  string        // "" = default service.
	Timeout time.Duration // 0 = backend default wait.
}

// Record is one usable varbind.
type Record struct {
	DeviceName string `json:"device_name"`
	OID        string `json:"oid"`
	Value      any    `json:"value"`
	Type       string `json:"type"`
}

// Getter performs SNMP GETs through a session.
type Getter struct {
	sessions tools.SessionProvider
	guard    *tools.Guard
	logger   *slog.Logger
}

// New creates a Getter. guard may be nil.
func New(sessions tools.SessionProvider, guard *tools.Guard, logger *slog.Logger) *Getter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Getter{sessions: sessions, guard: guard, logger: logger}
}

// Get queries req.OIDs on req.Device. Error rows are dropped; if none are
// left the call fails with apperr.ErrOperational. Records follow the
// backend's row order.
func (g *Getter) Get(ctx context.Context, req Request) ([]Record, error) {
	if len(req.OIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one OID must be provided", apperr.ErrValidation)
	}
	call := tools.Call{
		Tool:    "snmp_get",
		Service: req.Serial,
		Device:  req.Device,
		Parameters: map[string]any{
			"oids":            req.OIDs,
			"timeout_seconds": req.Timeout.Seconds(),
		},
	}
	start := time.Now()
	dev, err := tools.FindDevice(ctx, g.sessions, req.Serial, req.Device)
	if err != nil {
		g.guard.Record(ctx, call, start, err)
		return nil, err
	}
	if err := g.guard.Admit(ctx, call); err != nil {
		return nil, err
	}
	out, err := g.get(ctx, dev, req)
	g.guard.Record(ctx, call, start, err)
	return out, err
}

func (g *Getter) get(ctx context.Context, dev radkit.Device, req Request) ([]Record, error) {
	rows, err := dispatch.Run(ctx, g.sessions.Pool(), req.Timeout, func(ctx context.Context) ([]radkit.SNMPRow, error) {
		return dev.SNMPGet(ctx, req.OIDs, radkit.SNMPOptions{Timeout: req.Timeout})
	})
	if errors.Is(err, apperr.ErrTimeout) {
		return nil, fmt.Errorf("SNMP GET on device %s: %w", req.Device, err)
	}
	if err != nil {
		return nil, fmt.Errorf("SNMP GET failed on device %s: %w", req.Device, err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		if row.Failed() {
			g.logger.DebugContext(ctx, "dropping SNMP error row",
				slog.String("device", req.Device),
				slog.String("oid", row.OID),
				slog.String("error", row.Err),
			)
			continue
		}
		records = append(records, Record{
			DeviceName: req.Device,
			OID:        row.OID,
			Value:      row.Value,
			Type:       row.Type,
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: SNMP GET returned no valid results for device %s; check the device SNMP configuration", apperr.ErrOperational, req.Device)
	}
	return records, nil
}
