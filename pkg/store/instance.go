package store

import (
	"github.com/vango-dev/katai/pkg/keypath"
	"github.com/vango-dev/katai/pkg/subscribe"
)

// Instance is a handle on one store. Paths are relative to the store root;
// the empty path addresses the whole store and "*" subscribes to every
// change inside it. An Instance holds no state of its own.
type Instance struct {
	reg  *Registry
	name string
}

// Name returns the store name.
func (i *Instance) Name() string {
	return i.name
}

func (i *Instance) full(path string) string {
	if path == "*" {
		return i.name + keypath.DeepSuffix
	}
	return keypath.Join(i.name, path)
}

// Get returns a deep copy of the value at path, or nil if it is missing.
func (i *Instance) Get(path string) any {
	return i.reg.Get(i.full(path))
}

// GetOr returns the value at path, or def if it is missing or nil.
func (i *Instance) GetOr(path string, def any) any {
	if v := i.Get(path); v != nil {
		return v
	}
	return def
}

// Has reports whether a value exists at path.
func (i *Instance) Has(path string) bool {
	return i.reg.Has(i.full(path))
}

// Set replaces the value at path. The path must already exist; otherwise
// Set returns a *KeyNotFoundError and the state is unchanged.
func (i *Instance) Set(path string, value any) error {
	return i.reg.Set(i.full(path), value)
}

// Update replaces the value at path with the result of fn, creating missing
// intermediate mappings. Subscribers have been notified when Update returns.
func (i *Instance) Update(path string, fn Mutator) error {
	return i.reg.Update(i.full(path), fn)
}

// Next calls fn with a deep copy of the value at path.
func (i *Instance) Next(path string, fn func(value any)) *Instance {
	fn(i.Get(path))
	return i
}

// Subscribe registers sub at path. See Registry.Subscribe.
func (i *Instance) Subscribe(path string, sub subscribe.Subscriber, opts ...SubscribeOption) bool {
	return i.reg.Subscribe(i.full(path), sub, opts...)
}

// SubscribeFunc registers fn at path and returns the subscriber, which can
// be passed to Unsubscribe. Funcs cannot be compared, so every call
// registers a new subscriber with a fresh ID: passing the same fn twice
// makes it fire twice. For idempotent registration build the subscriber
// with subscribe.WithID and use Subscribe.
func (i *Instance) SubscribeFunc(path string, fn subscribe.Callback, opts ...SubscribeOption) subscribe.Subscriber {
	sub := subscribe.New(fn)
	i.Subscribe(path, sub, opts...)
	return sub
}

// Unsubscribe removes sub from path.
func (i *Instance) Unsubscribe(path string, sub subscribe.Subscriber) bool {
	return i.reg.Unsubscribe(i.full(path), sub)
}

// RemoveSubscribers removes every subscriber at path. Called with no path it
// removes every subscription on the store.
func (i *Instance) RemoveSubscribers(path ...string) int {
	if len(path) == 0 {
		return i.reg.subs.RemovePrefix(i.name)
	}
	n := 0
	for _, p := range path {
		n += i.reg.RemoveSubscribers(i.full(p))
	}
	return n
}

// CacheKey returns the composite cache key if the store is cache-bound.
func (i *Instance) CacheKey() (string, bool) {
	return i.reg.cache.Key(i.name)
}

// ClearCache deletes the store's cache entry. The binding stays, so the
// next mutation writes the entry again.
func (i *Instance) ClearCache() {
	i.reg.cache.Clear(i.name)
}

// Drop removes the store. See Registry.Drop.
func (i *Instance) Drop() {
	i.reg.Drop(i.name)
}
