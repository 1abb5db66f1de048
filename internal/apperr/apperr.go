// Package apperr defines the error kinds surfaced by the server.
// Callers wrap a kind with fmt.Errorf("%w: ...") so errors.Is identifies it
// while the message names the offending field, variable, path or device.
package apperr

import "errors"

var (
	// ErrConfiguration is returned when a required setting is absent or invalid.
	ErrConfiguration = errors.New("configuration error")
	// ErrDecoding is returned when a base64 value cannot be decoded.
	ErrDecoding = errors.New("decoding error")
	// ErrFileNotFound is returned when an explicit credential path does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrAuthentication is returned when the client login fails.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotFound is returned when a device is absent from the service inventory.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed tool input.
	ErrValidation = errors.New("validation error")
	// ErrExecution is returned when a device reports a non-success status.
	ErrExecution = errors.New("execution error")
	// ErrOperational is returned when an operation produced no usable result.
	ErrOperational = errors.New("operation failed")
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("timeout")
	// ErrConnection is returned when a service connection cannot be established.
	ErrConnection = errors.New("connection error")
	// ErrState is returned when the session is used before initialization.
	ErrState = errors.New("session not initialized")
)

// Kind returns the name of the first error kind matched by err, or "internal".
// Used for metric labels and audit records.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrDecoding):
		return "decoding"
	case errors.Is(err, ErrFileNotFound):
		return "file_not_found"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrExecution):
		return "execution"
	case errors.Is(err, ErrOperational):
		return "operational"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrState):
		return "state"
	}
	return "internal"
}
