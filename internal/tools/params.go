package tools

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
)

// String returns the required non-empty string parameter key.
func String(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s is required", apperr.ErrValidation, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", apperr.ErrValidation, key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s must not be empty", apperr.ErrValidation, key)
	}
	return s, nil
}

// OptionalString returns the string parameter key, or "" when absent or null.
func OptionalString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", apperr.ErrValidation, key)
	}
	return s, nil
}

// StringOrList accepts a single string or an array of strings. single reports
// which form was given. An empty array is returned as is; callers decide
// whether that is valid.
func StringOrList(params map[string]any, key string) (values []string, single bool, err error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, false, fmt.Errorf("%w: %s is required", apperr.ErrValidation, key)
	}
	switch t := v.(type) {
	case string:
		return []string{t}, true, nil
	case []string:
		return t, false, nil
	case []any:
		out := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false, fmt.Errorf("%w: %s[%d] must be a string", apperr.ErrValidation, key, i)
			}
			out = append(out, s)
		}
		return out, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s must be a string or an array of strings", apperr.ErrValidation, key)
}

// Int returns the integer parameter key, or def when absent or null.
// JSON numbers arrive as float64; fractional values are rejected.
func Int(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		f = t
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", apperr.ErrValidation, key)
		}
		f = n
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", apperr.ErrValidation, key)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be an integer", apperr.ErrValidation, key)
	}
	return int(f), nil
}

// Bool returns the boolean parameter key, or false when absent or null.
func Bool(params map[string]any, key string) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", apperr.ErrValidation, key)
	}
	return b, nil
}

// maxSeconds is the largest whole number of seconds a time.Duration holds.
var maxSeconds = math.Floor(float64(math.MaxInt64) / float64(time.Second))

// Seconds returns the non-negative duration parameter key given in seconds,
// or def when absent or null. Fractions are allowed.
func Seconds(params map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	switch t := v.(type) {
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case float64:
		f = t
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number of seconds", apperr.ErrValidation, key)
		}
		f = n
	default:
		return 0, fmt.Errorf("%w: %s must be a number of seconds", apperr.ErrValidation, key)
	}
	if f < 0 || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %s must not be negative", apperr.ErrValidation, key)
	}
	if f > maxSeconds {
		return 0, fmt.Errorf("%w: %s must be at most %.0f seconds", apperr.ErrValidation, key, maxSeconds)
	}
	return time.Duration(f * float64(time.Second)), nil
}
