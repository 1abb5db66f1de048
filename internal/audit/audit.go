// Package audit writes an append-only JSONL record of every device operation.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Result values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event is a single line of the audit log.
type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Tool          string         `json:"tool"`
	Service       string         `json:"service,omitempty"`
	Device        string         `json:"device,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Result        string         `json:"result"`
	DurationMS    int64          `json:"duration_ms"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Logger appends events to a file. Safe for concurrent use.
// A nil *Logger discards events.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// Open opens (or creates) the audit log at path in append-only mode with
// 0600 permissions. Parent directories are created.
func Open(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &Logger{file: f, logger: logger}, nil
}

// Log appends event. Timestamp and CorrelationID are filled in when zero;
// the correlation ID comes from ctx when one is attached.
func (a *Logger) Log(ctx context.Context, event Event) error {
	if a == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = CorrelationID(ctx)
	}

	// Marshal outside the lock; only the write is serialized.
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	_, err = a.file.Write(data)
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	a.logger.DebugContext(ctx, "audit event logged",
		slog.String("tool", event.Tool),
		slog.String("device", event.Device),
		slog.String("result", event.Result),
		slog.String("correlation_id", event.CorrelationID),
	)
	return nil
}

// Close closes the underlying file.
func (a *Logger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

type correlationKey struct{}

// WithCorrelationID attaches a new correlation ID to ctx unless one is present.
func WithCorrelationID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(correlationKey{}).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, uuid.NewString())
}

// CorrelationID returns the ID attached to ctx, or a fresh one.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return uuid.NewString()
}
