// Package exec implements CLI command execution on inventory devices.
package exec

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

// Request is one execution against one device.
type Request struct {
	Device      string
	Commands    []string
	Serial      string        // "" = default service.
	Timeout     time.Duration // 0 = wait for the device.
	MaxLines    int           // 0 = keep all output.
	ResetBefore bool
	ResetAfter  bool
	Sudo        bool
}

// Executor runs commands through a session.
type Executor struct {
	sessions tools.SessionProvider
	guard    *tools.Guard
	logger   *slog.Logger
}

// New creates an Executor. guard may be nil.
func New(sessions tools.SessionProvider, guard *tools.Guard, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{sessions: sessions, guard: guard, logger: logger}
}

// Execute runs req.Commands on req.Device. One command yields a single
// record; several yield a list in request order.
func (e *Executor) Execute(ctx context.Context, toolName string, req Request) (OneOrMany[CommandRecord], error) {
	var none OneOrMany[CommandRecord]
	if len(req.Commands) == 0 {
		return none, fmt.Errorf("%w: at least one command must be provided", apperr.ErrValidation)
	}

	call := tools.Call{
		Tool:    toolName,
		Service: req.Serial,
		Device:  req.Device,
		Parameters: map[string]any{
			"commands":        req.Commands,
			"timeout_seconds": req.Timeout.Seconds(),
			"max_lines":       req.MaxLines,
			"reset_before":    req.ResetBefore,
			"reset_after":     req.ResetAfter,
			"sudo":            req.Sudo,
		},
	}
	start := time.Now()
	// Resolve first: only known devices get a rate-limit bucket.
	dev, err := tools.FindDevice(ctx, e.sessions, req.Serial, req.Device)
	if err != nil {
		e.guard.Record(ctx, call, start, err)
		return none, err
	}
	if err := e.guard.Admit(ctx, call); err != nil {
		return none, err
	}
	out, err := e.execute(ctx, dev, req)
	e.guard.Record(ctx, call, start, err)
	return out, err
}

func (e *Executor) execute(ctx context.Context, dev radkit.Device, req Request) (OneOrMany[CommandRecord], error) {
	var none OneOrMany[CommandRecord]

	opts := radkit.ExecOptions{
		Timeout:     req.Timeout,
		ResetBefore: req.ResetBefore,
		ResetAfter:  req.ResetAfter,
		Sudo:        req.Sudo,
	}
	resp, err := dispatch.Run(ctx, e.sessions.Pool(), req.Timeout, func(ctx context.Context) (*radkit.ExecResponse, error) {
		return dev.Exec(ctx, req.Commands, opts)
	})
	if errors.Is(err, apperr.ErrTimeout) {
		return none, fmt.Errorf("command execution on device %s: %w", req.Device, err)
	}
	if err != nil {
		return none, fmt.Errorf("command execution failed on device %s: %w", req.Device, err)
	}
	if !resp.Succeeded() {
		msg := resp.StatusMessage
		if msg == "" {
			msg = "Unknown error"
		}
		return none, fmt.Errorf("%w: command execution failed on %s: %s", apperr.ErrExecution, req.Device, msg)
	}

	records := make([]CommandRecord, 0, len(resp.Commands))
	for _, c := range resp.Commands {
		t := tools.TruncateLines(c.Output, req.MaxLines)
		records = append(records, CommandRecord{
			DeviceName:     req.Device,
			Command:        c.Command,
			Output:         t.Output,
			Status:         c.Status,
			Truncated:      t.Truncated,
			TotalLines:     t.TotalLines,
			DisplayedLines: t.DisplayedLines,
		})
	}

	e.logger.DebugContext(ctx, "commands executed",
		slog.String("device", req.Device),
		slog.Int("commands", len(records)),
	)

	if len(records) == 1 {
		return One(records[0]), nil
	}
	return Many(records), nil
}
