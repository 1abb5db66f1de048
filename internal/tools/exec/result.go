package exec

import "github.com/goccy/go-json"

// OneOrMany holds either a single value or an ordered list of values. It
// marshals as a bare object or as an array accordingly.
type OneOrMany[T any] struct {
	items []T
	one   bool
}

// One wraps a single value.
func One[T any](v T) OneOrMany[T] {
	return OneOrMany[T]{items: []T{v}, one: true}
}

// Many wraps an ordered list.
func Many[T any](vs []T) OneOrMany[T] {
	return OneOrMany[T]{items: vs}
}

// IsOne reports whether r holds a single value.
func (r OneOrMany[T]) IsOne() bool { return r.one }

// One returns the single value. ok is false for a list.
func (r OneOrMany[T]) One() (v T, ok bool) {
	if !r.one {
		return v, false
	}
	return r.items[0], true
}

// Many returns every value in order, whichever form r holds.
func (r OneOrMany[T]) Many() []T { return r.items }

func (r OneOrMany[T]) MarshalJSON() ([]byte, error) {
	if r.one {
		return json.Marshal(r.items[0])
	}
	if r.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.items)
}

// CommandRecord is the result of one command.
type CommandRecord struct {
	DeviceName     string `json:"device_name"`
	Command        string `json:"command"`
	Output         string `json:"output"`
	Status         string `json:"status"`
	Truncated      bool   `json:"truncated"`
	TotalLines     int    `json:"total_lines,omitempty"`
	DisplayedLines int    `json:"displayed_lines,omitempty"`
}
