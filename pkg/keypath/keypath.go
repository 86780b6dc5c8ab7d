// Package keypath reads and writes values inside nested state trees addressed
// by dot-separated paths such as "user.profile.age".
//
// A state tree is built from map[string]any and []any nodes with JSON-style
// leaves. The empty path addresses the root. Segments that parse as
// non-negative integers index into []any nodes positionally.
package keypath

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Separator splits path segments.
	Separator = "."

	// DeepSuffix marks a subscription path as deep: it matches every path
	// at or below its prefix.
	DeepSuffix = ".*"
)

// Split returns the segments of path. The empty path has no segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, Separator)
}

// Join concatenates non-empty parts with the separator.
func Join(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(p)
	}
	return b.String()
}

// IsDeep reports whether path carries the deep marker.
func IsDeep(path string) bool {
	return path == "*" || strings.HasSuffix(path, DeepSuffix)
}

// TrimDeep strips the deep marker. "*" trims to the root path.
func TrimDeep(path string) string {
	if path == "*" {
		return ""
	}
	return strings.TrimSuffix(path, DeepSuffix)
}

// HasSegmentPrefix reports whether prefix names path itself or one of its
// ancestors. Matching is by whole segments: "users" matches "users" and
// "users.5.name" but not "userset". The empty prefix matches every path.
func HasSegmentPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '.'
}

// PathError describes a write that could not descend through a node.
type PathError struct {
	Path    string
	Segment string
	Reason  string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("keypath: %s at segment %q of %q", e.Reason, e.Segment, e.Path)
}

// Read returns the value at path and whether it exists. Read never modifies
// root; a missing intermediate segment ends the walk immediately.
//
// A key that is present with a nil value is reported as found.
func Read(root any, path string) (any, bool) {
	node := root
	for _, seg := range Split(path) {
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[seg]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			i, ok := index(seg)
			if !ok || i >= len(n) {
				return nil, false
			}
			node = n[i]
		default:
			return nil, false
		}
	}
	return node, true
}

// Has reports whether a value exists at path.
func Has(root any, path string) bool {
	_, ok := Read(root, path)
	return ok
}

// Write stores value at path and returns the resulting root. Maps are
// mutated in place; missing or nil intermediate nodes are created as empty
// maps. A sequence only grows by appending at index len(seq), so callers
// must use the returned root in case a sequence on the way was reallocated.
// Writing the empty path replaces the root with value.
func Write(root any, path string, value any) (any, error) {
	return write(root, Split(path), value, path)
}

func write(node any, segs []string, value any, path string) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]
	if node == nil {
		node = map[string]any{}
	}

	switch n := node.(type) {
	case map[string]any:
		child, err := write(n[seg], segs[1:], value, path)
		if err != nil {
			return nil, err
		}
		n[seg] = child
		return n, nil
	case []any:
		i, ok := index(seg)
		if !ok {
			return nil, &PathError{Path: path, Segment: seg, Reason: "non-numeric index into sequence"}
		}
		switch {
		case i < len(n):
			child, err := write(n[i], segs[1:], value, path)
			if err != nil {
				return nil, err
			}
			n[i] = child
			return n, nil
		case i == len(n):
			child, err := write(nil, segs[1:], value, path)
			if err != nil {
				return nil, err
			}
			return append(n, child), nil
		default:
			return nil, &PathError{Path: path, Segment: seg, Reason: "index out of range"}
		}
	default:
		return nil, &PathError{Path: path, Segment: seg, Reason: fmt.Sprintf("cannot descend into %T", node)}
	}
}

// Delete removes the value at path from its parent mapping. It reports
// whether anything was removed. Sequence elements are not removed.
func Delete(root any, path string) bool {
	segs := Split(path)
	if len(segs) == 0 {
		return false
	}
	parent, ok := Read(root, Join(segs[:len(segs)-1]...))
	if !ok {
		return false
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	last := segs[len(segs)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}

// Keys returns the keys of the mapping at path, or nil if the node is not a
// mapping.
func Keys(root any, path string) []string {
	v, ok := Read(root, path)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func index(seg string) (int, bool) {
	if seg == "" || seg[0] == '+' || seg[0] == '-' {
		return 0, false
	}
	i, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return i, true
}
