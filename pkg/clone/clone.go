// Package clone produces reference-independent copies of state values.
//
// Generic trees (map[string]any, []any and JSON leaves) are copied by a
// direct walk. Any other value is copied through a JSON round trip, which
// also normalizes it into a generic tree. Values that cannot be represented
// as JSON, such as functions, channels or cyclic graphs, fail closed.
package clone

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// maxDepth bounds the direct walk. Deeper trees are treated as cyclic.
const maxDepth = 1000

// ErrCycle is returned when a value nests deeper than the walk allows,
// which in practice means it refers to itself.
var ErrCycle = errors.New("clone: value is cyclic or too deeply nested")

// Failure reports a value that could not be copied.
type Failure struct {
	Type string
	Err  error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("clone: cannot copy %s: %v", e.Type, e.Err)
}

func (e *Failure) Unwrap() error { return e.Err }

// Func is the signature shared by Value and custom cloners.
type Func func(any) any

// Value returns a deep copy of v. On failure it logs the error and returns
// nil; the source value is never modified. A nil input returns nil.
func Value(v any) any {
	out, err := Try(v)
	if err != nil {
		slog.Default().With("component", "clone").Warn("clone failed", "error", err)
		return nil
	}
	return out
}

// Try returns a deep copy of v or the reason it could not be made.
func Try(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return walk(v, 0)
}

func walk(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, &Failure{Type: fmt.Sprintf("%T", v), Err: ErrCycle}
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t, nil
	case map[string]any:
		if t == nil {
			return map[string]any(nil), nil
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			c, err := walk(child, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		if t == nil {
			return []any(nil), nil
		}
		out := make([]any, len(t))
		for i, child := range t {
			c, err := walk(child, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return viaJSON(v)
	}
}

func viaJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &Failure{Type: fmt.Sprintf("%T", v), Err: err}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &Failure{Type: fmt.Sprintf("%T", v), Err: err}
	}
	return out, nil
}
