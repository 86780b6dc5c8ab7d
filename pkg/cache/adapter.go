package cache

import (
	"context"
	"errors"
)

// Adapter is the capability set a cache backend provides. Values are
// already serialized by the controller's codec.
type Adapter interface {
	// Read returns the stored bytes for key, or (nil, nil) if absent.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ErrAdapterClosed is returned by adapters after Close.
var ErrAdapterClosed = errors.New("cache: adapter closed")

// ErrMissingAdapter is returned when binding a store without an adapter.
var ErrMissingAdapter = errors.New("cache: adapter is required")
