package store

import (
	"encoding/json"
	"fmt"
)

// Value decodes the value at path into T.
func Value[T any](i *Instance, path string) (T, error) {
	var out T
	v := i.Get(path)
	if v == nil {
		if !i.Has(path) {
			return out, &KeyNotFoundError{Store: i.name, Path: path}
		}
		return out, nil
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("store %q: encode %q: %w", i.name, path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("store %q: decode %q into %T: %w", i.name, path, out, err)
	}
	return out, nil
}
