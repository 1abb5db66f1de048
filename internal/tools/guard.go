package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/audit"
	"github.com/jkaninda/radkit-mcp/internal/ratelimit"
)

// Guard rate-limits device operations per device and records each one in
// the audit log. A nil *Guard admits everything and records nothing.
type Guard struct {
	Limiter *ratelimit.Limiter
	Audit   *audit.Logger
	Logger  *slog.Logger
}

// Call describes one device operation for the audit trail.
type Call struct {
	Tool       string
	Service    string
	Device     string
	Parameters map[string]any
}

// Admit consumes a rate-limit token for c.Device. A refusal is audited as
// denied and returned wrapping ratelimit.ErrRateLimited.
func (g *Guard) Admit(ctx context.Context, c Call) error {
	if g == nil {
		return nil
	}
	if err := g.Limiter.Allow(c.Device); err != nil {
		err = fmt.Errorf("%w: device %s", err, c.Device)
		g.write(ctx, c, audit.ResultDenied, 0, err)
		return err
	}
	return nil
}

// Record audits the outcome of c, which started at start.
func (g *Guard) Record(ctx context.Context, c Call, start time.Time, err error) {
	if g == nil {
		return
	}
	result := audit.ResultSuccess
	if err != nil {
		result = audit.ResultFailure
	}
	g.write(ctx, c, result, time.Since(start), err)
}

func (g *Guard) write(ctx context.Context, c Call, result string, d time.Duration, err error) {
	ev := audit.Event{
		Tool:       c.Tool,
		Service:    c.Service,
		Device:     c.Device,
		Parameters: c.Parameters,
		Result:     result,
		DurationMS: d.Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
		ev.ErrorKind = apperr.Kind(err)
		if errors.Is(err, ratelimit.ErrRateLimited) {
			ev.ErrorKind = "rate_limited"
		}
	}
	if werr := g.Audit.Log(ctx, ev); werr != nil && g.Logger != nil {
		g.Logger.WarnContext(ctx, "audit write failed", slog.String("error", werr.Error()))
	}
}
