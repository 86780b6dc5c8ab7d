package store

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingName is returned when creating a store without a name.
	ErrMissingName = errors.New("store: name is required")

	// ErrInvalidName is returned for names that cannot be used as the first
	// path segment.
	ErrInvalidName = errors.New("store: name must not contain '.' or '*'")

	// ErrMissingState is returned when creating a store without initial state.
	ErrMissingState = errors.New("store: initial state is required")

	// ErrDuplicateStore matches any *DuplicateStoreError.
	ErrDuplicateStore = errors.New("store: duplicate store")

	// ErrStoreNotFound matches any *StoreNotFoundError.
	ErrStoreNotFound = errors.New("store: not found")

	// ErrKeyNotFound matches any *KeyNotFoundError.
	ErrKeyNotFound = errors.New("store: key not found")

	// ErrMissingCacheAdapter matches any *MissingCacheAdapterError.
	ErrMissingCacheAdapter = errors.New("store: cache key configured without adapter")

	// ErrInvalidPath is returned for writes to the registry root.
	ErrInvalidPath = errors.New("store: cannot write the registry root")
)

// DuplicateStoreError is returned when a store name is already registered.
type DuplicateStoreError struct {
	Name string
}

func (e *DuplicateStoreError) Error() string {
	return fmt.Sprintf("store %q already exists", e.Name)
}

// Is reports whether target is ErrDuplicateStore.
func (e *DuplicateStoreError) Is(target error) bool {
	return target == ErrDuplicateStore
}

// StoreNotFoundError is returned for operations on a store that does not
// exist or was dropped.
type StoreNotFoundError struct {
	Name string
}

func (e *StoreNotFoundError) Error() string {
	return fmt.Sprintf("store %q does not exist", e.Name)
}

// Is reports whether target is ErrStoreNotFound.
func (e *StoreNotFoundError) Is(target error) bool {
	return target == ErrStoreNotFound
}

// KeyNotFoundError is returned by Set when the path does not exist.
type KeyNotFoundError struct {
	Store string
	Path  string

	// Suggestion is the closest existing sibling key, if any.
	Suggestion string
}

func (e *KeyNotFoundError) Error() string {
	msg := fmt.Sprintf("key %q does not exist in store %q", e.Path, e.Store)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// Is reports whether target is ErrKeyNotFound.
func (e *KeyNotFoundError) Is(target error) bool {
	return target == ErrKeyNotFound
}

// MissingCacheAdapterError is returned when a store is created with a cache
// key but no adapter.
type MissingCacheAdapterError struct {
	Store string
	Key   string
}

func (e *MissingCacheAdapterError) Error() string {
	return fmt.Sprintf("store %q: cache key %q configured without an adapter", e.Store, e.Key)
}

// Is reports whether target is ErrMissingCacheAdapter.
func (e *MissingCacheAdapterError) Is(target error) bool {
	return target == ErrMissingCacheAdapter
}
