// Package inventory implements the read-only inventory tools: device names
// and per-device attributes.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jkaninda/radkit-mcp/internal/dispatch"
	"github.com/jkaninda/radkit-mcp/internal/radkit"
	"github.com/jkaninda/radkit-mcp/internal/tools"
)

// Inventory answers inventory queries against a session.
type Inventory struct {
	sessions tools.SessionProvider
	logger   *slog.Logger
}

// New creates an Inventory.
func New(sessions tools.SessionProvider, logger *slog.Logger) *Inventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{sessions: sessions, logger: logger}
}

// ListDeviceNames returns the device names of serial's inventory as a set
// string, e.g. {"p0-2e", "p1-2e"}. serial "" means the default service.
func (i *Inventory) ListDeviceNames(ctx context.Context, serial string) (string, error) {
	names, err := i.deviceNames(ctx, serial)
	if err != nil {
		return "", fmt.Errorf("error fetching device inventory: %w", err)
	}
	return FormatSet(names), nil
}

func (i *Inventory) deviceNames(ctx context.Context, serial string) ([]string, error) {
	svc, err := i.sessions.Service(ctx, serial)
	if err != nil {
		return nil, err
	}
	devices, err := dispatch.Run(ctx, i.sessions.Pool(), 0, func(ctx context.Context) ([]radkit.Device, error) {
		return svc.Inventory(ctx)
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name())
	}
	return names, nil
}

// GetDeviceAttributes returns device's attributes merged with its name as
// indented JSON. Which attributes are present is up to the backend.
func (i *Inventory) GetDeviceAttributes(ctx context.Context, device, serial string) (string, error) {
	dev, err := tools.FindDevice(ctx, i.sessions, serial, device)
	if err != nil {
		return "", err
	}
	attrs, err := dispatch.Run(ctx, i.sessions.Pool(), 0, func(ctx context.Context) (map[string]any, error) {
		return dev.Attributes(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("error fetching device attributes for %s: %w", device, err)
	}

	merged := make(map[string]any, len(attrs)+1)
	merged["name"] = device
	for k, v := range attrs {
		merged[k] = v
	}
	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding attributes of %s: %w", device, err)
	}
	i.logger.DebugContext(ctx, "device attributes fetched",
		slog.String("device", device),
		slog.Int("attributes", len(attrs)),
	)
	return string(out), nil
}

// FormatSet renders names, deduplicated and sorted, as {"a", "b"}.
func FormatSet(names []string) string {
	uniq := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		uniq = append(uniq, n)
	}
	sort.Strings(uniq)

	var b strings.Builder
	b.WriteByte('{')
	for idx, n := range uniq {
		if idx > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Quote(n))
	}
	b.WriteByte('}')
	return b.String()
}
