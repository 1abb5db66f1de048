// Package tools defines the tool interface and registry for the device
// operations, plus helpers shared by the tool packages.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/dispatch"
	"github.com/jkaninda/radkit-mcp/internal/radkit"
)

// Tool is the interface every device tool implements.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "snmp_get").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	InputSchema() map[string]any

	// Validate checks that params are well-formed before any device is contacted.
	Validate(params map[string]any) error

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution. Output is what the client sees.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// SessionProvider resolves connected services. Satisfied by *session.Manager.
type SessionProvider interface {
	Service(ctx context.Context, serial string) (radkit.Service, error)
	Pool() *dispatch.Pool
}

// FindDevice resolves serial's service and looks up name in its inventory on
// the worker pool. A missing device is reported as apperr.ErrNotFound.
func FindDevice(ctx context.Context, sessions SessionProvider, serial, name string) (radkit.Device, error) {
	svc, err := sessions.Service(ctx, serial)
	if err != nil {
		return nil, err
	}
	dev, err := dispatch.Run(ctx, sessions.Pool(), 0, func(ctx context.Context) (radkit.Device, error) {
		return svc.Device(ctx, name)
	})
	if errors.Is(err, radkit.ErrDeviceNotFound) {
		return nil, fmt.Errorf("%w: device %q not found in RADKit inventory", apperr.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Truncation is the result of TruncateLines.
type Truncation struct {
	Output         string
	Truncated      bool
	TotalLines     int
	DisplayedLines int
}

// TruncateLines keeps the first max lines of output, line terminators
// included, and appends a notice counting the omitted lines. max <= 0 keeps
// everything.
func TruncateLines(output string, max int) Truncation {
	if max <= 0 {
		return Truncation{Output: output}
	}
	lines := splitLines(output)
	total := len(lines)
	if total <= max {
		return Truncation{Output: output}
	}
	kept := strings.Join(lines[:max], "")
	notice := fmt.Sprintf("\n\n[OUTPUT TRUNCATED: %d lines omitted, showing first %d of %d lines]\n", total-max, max, total)
	return Truncation{
		Output:         kept + notice,
		Truncated:      true,
		TotalLines:     total,
		DisplayedLines: max,
	}
}

// splitLines splits s after each line boundary, keeping the terminators.
// Boundaries are \n, \r, \r\n, \v, \f, the file/group/record separators,
// NEL and the Unicode line and paragraph separators. A trailing partial line
// counts as a line.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		switch r {
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				continue
			}
		case '\n', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		default:
			continue
		}
		end := i + utf8.RuneLen(r)
		lines = append(lines, s[start:end])
		start = end
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools in name order.
func (r *Registry) All() []Tool {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(names))
	for _, n := range names {
		result = append(result, r.tools[n])
	}
	return result
}

// Wrap replaces every registered tool with wrap(tool).
func (r *Registry) Wrap(wrap func(Tool) Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.tools {
		r.tools[name] = wrap(t)
	}
}
