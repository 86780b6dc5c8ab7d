// Package store implements named, path-addressable state stores with
// subscriber fan-out and optional cache synchronization.
//
// A Registry owns every store's state, the subscriptions on it and the cache
// bindings. An Instance is a view of one store whose paths are relative to
// the store root:
//
//	reg := store.New()
//	todos, err := reg.Create("todos", map[string]any{"items": []any{}})
//	todos.SubscribeFunc("items", func(newValue, oldValue any) error {
//	    log.Println("items changed", newValue)
//	    return nil
//	})
//	err = todos.Update("items", func(old any) (any, error) {
//	    return append(old.([]any), map[string]any{"id": 1}), nil
//	})
//
// Reads always return deep copies. Every mutation goes through Update, which
// writes the new value, schedules a cache write-through and notifies
// subscribers before it returns.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/vango-dev/katai/pkg/cache"
	"github.com/vango-dev/katai/pkg/clone"
	"github.com/vango-dev/katai/pkg/keypath"
	"github.com/vango-dev/katai/pkg/metrics"
	"github.com/vango-dev/katai/pkg/subscribe"
)

// Mutator computes a new value from a copy of the old one. The old value
// may be modified and returned. Mutators must not call back into the
// registry.
type Mutator func(old any) (any, error)

// Registry is the context object owning all stores.
type Registry struct {
	// writeMu serializes mutations so write, fan-out collection and cache
	// sequencing observe one order.
	writeMu sync.Mutex

	mu    sync.RWMutex
	state map[string]any
	names []string

	subs      *subscribe.Registry
	cache     *cache.Controller
	ownsCache bool

	hostResolver func() LifecycleHost
	onError      func(error)
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		state:     make(map[string]any),
		logger:    slog.Default().With("component", "store"),
		ownsCache: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.NewController(
			cache.WithLogger(r.logger.With("component", "cache")),
			cache.WithMetrics(r.metrics),
		)
	}
	r.subs = subscribe.NewRegistry(
		subscribe.WithReader(subscribe.ReaderFunc(r.snapshot)),
		subscribe.WithLogger(r.logger.With("component", "subscribe")),
		subscribe.WithMetrics(r.metrics),
	)
	return r
}

// Create registers a store and returns its handle. initial is deep-copied
// and normalized into a generic tree. If the store is cache-bound, the
// cached entry is read in the background and replaces the state when it is
// non-empty; the handle is usable immediately.
func (r *Registry) Create(name string, initial any, opts ...CreateOption) (*Instance, error) {
	if name == "" {
		return nil, ErrMissingName
	}
	if strings.ContainsAny(name, ".*") {
		return nil, ErrInvalidName
	}
	if initial == nil {
		return nil, ErrMissingState
	}

	var cfg createConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.key != "" && cfg.adapter == nil {
		return nil, &MissingCacheAdapterError{Store: name, Key: cfg.key}
	}

	state, err := clone.Try(initial)
	if err != nil {
		return nil, fmt.Errorf("store %q: %w", name, err)
	}

	r.writeMu.Lock()
	r.mu.Lock()
	if _, exists := r.state[name]; exists {
		r.mu.Unlock()
		r.writeMu.Unlock()
		return nil, &DuplicateStoreError{Name: name}
	}
	r.state[name] = state
	r.names = append(r.names, name)
	r.mu.Unlock()

	if cfg.adapter != nil {
		if _, err := r.cache.Bind(name, cache.Options{Key: cfg.key, Adapter: cfg.adapter, Codec: cfg.codec}); err != nil {
			r.removeLocked(name)
			r.writeMu.Unlock()
			return nil, fmt.Errorf("store %q: %w", name, err)
		}
		// Queued before any write the new store can make.
		r.cache.Hydrate(name, hydrator{reg: r, name: name})
	}
	r.writeMu.Unlock()

	r.metrics.StoreAdded()
	r.logger.Debug("store created", "store", name, "cached", cfg.adapter != nil)
	return &Instance{reg: r, name: name}, nil
}

// Store returns the handle of an existing store.
func (r *Registry) Store(name string) (*Instance, error) {
	if !r.Exists(name) {
		return nil, &StoreNotFoundError{Name: name}
	}
	return &Instance{reg: r, name: name}, nil
}

// Exists reports whether a store is registered under name.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.state[name]
	return ok
}

// Names returns the registered store names in creation order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Drop removes a store's state, every subscription at or below its name, and
// its cache entry. Dropping a missing store is a no-op.
func (r *Registry) Drop(name string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.removeLocked(name) {
		return
	}
	removed := r.subs.RemovePrefix(name)
	r.cache.Drop(name)
	r.metrics.StoreDropped()
	r.logger.Debug("store dropped", "store", name, "subscriptions", removed)
}

// removeLocked deletes name from the state. Callers hold writeMu.
func (r *Registry) removeLocked(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state[name]; !ok {
		return false
	}
	delete(r.state, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i:i], r.names[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a deep copy of the value at a full path ("store.key...").
// The empty path returns every store. Missing paths return nil.
func (r *Registry) Get(path string) any {
	v, _ := r.snapshot(path)
	return v
}

// Has reports whether a value exists at a full path.
func (r *Registry) Has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keypath.Has(r.state, path)
}

// Set replaces the value at an existing full path.
func (r *Registry) Set(path string, value any) error {
	return r.update(path, func(any) (any, error) { return value, nil }, true)
}

// Update applies fn to the value at a full path. The first segment must name
// an existing store.
func (r *Registry) Update(path string, fn Mutator) error {
	return r.update(path, fn, false)
}

// Subscribe registers sub at a full path. The empty path subscribes to every
// mutation in every store. It reports whether sub was newly registered.
func (r *Registry) Subscribe(path string, sub subscribe.Subscriber, opts ...SubscribeOption) bool {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !r.subs.Subscribe(path, sub) {
		return false
	}

	host := cfg.host
	if host == nil && r.hostResolver != nil {
		host = r.hostResolver()
	}
	if host != nil {
		r.registerTeardown(host, path, sub)
	}

	if cfg.immediate {
		current := r.Get(keypath.TrimDeep(path))
		if err := r.subs.Dispatch([]subscribe.Delivery{{
			Match:      subscribe.MatchExact,
			Path:       path,
			Subscriber: sub,
			NewValue:   current,
		}}); err != nil {
			r.reportError(err)
		}
	}
	return true
}

// Unsubscribe removes sub from a full path.
func (r *Registry) Unsubscribe(path string, sub subscribe.Subscriber) bool {
	return r.subs.Unsubscribe(path, sub)
}

// RemoveSubscribers removes every subscriber at a full path.
func (r *Registry) RemoveSubscribers(path string) int {
	return r.subs.RemoveAll(path)
}

// ClearSubscribers removes every subscription in the registry.
func (r *Registry) ClearSubscribers() {
	r.subs.ClearAll()
}

// Flush waits until background cache operations have settled.
func (r *Registry) Flush(ctx context.Context) error {
	return r.cache.Wait(ctx)
}

// Close stops the cache controller if the registry created it.
func (r *Registry) Close() error {
	if r.ownsCache {
		return r.cache.Close()
	}
	return nil
}

func (r *Registry) update(path string, fn Mutator, mustExist bool) error {
	if path == "" {
		return ErrInvalidPath
	}
	name, rel := splitStore(path)

	r.writeMu.Lock()
	deliveries, err := r.applyLocked(name, rel, path, fn, mustExist)
	r.writeMu.Unlock()

	r.metrics.RecordMutation(name, err)
	if err != nil {
		return err
	}
	if err := r.subs.Dispatch(deliveries); err != nil {
		r.reportError(err)
	}
	return nil
}

// applyLocked performs the read-modify-write under writeMu and returns the
// deliveries to dispatch once the lock is released.
func (r *Registry) applyLocked(name, rel, path string, fn Mutator, mustExist bool) ([]subscribe.Delivery, error) {
	r.mu.RLock()
	root, ok := r.state[name]
	if !ok {
		r.mu.RUnlock()
		return nil, &StoreNotFoundError{Name: name}
	}
	old, found := keypath.Read(root, rel)
	if mustExist && !found {
		err := &KeyNotFoundError{Store: name, Path: rel, Suggestion: suggest(root, rel)}
		r.mu.RUnlock()
		return nil, err
	}
	oldSnap := clone.Value(old)
	arg := clone.Value(old)
	r.mu.RUnlock()

	next, err := fn(arg)
	if err != nil {
		return nil, err
	}
	next, err = clone.Try(next)
	if err != nil {
		return nil, fmt.Errorf("store %q: %w", name, err)
	}

	r.mu.Lock()
	newRoot, err := keypath.Write(r.state[name], rel, next)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.state[name] = newRoot
	newSnap := clone.Value(next)
	var cacheSnap any
	if r.cache.Bound(name) {
		cacheSnap = clone.Value(newRoot)
	}
	r.mu.Unlock()

	if cacheSnap != nil {
		r.cache.Persist(name, cacheSnap)
	}
	return r.subs.Collect(path, newSnap, oldSnap), nil
}

// hydrator connects a store's read-through to the registry.
type hydrator struct {
	reg  *Registry
	name string
}

// Apply replaces the state with the cached value and notifies subscribers of
// the store path. It does not write back to the cache. A store mutated since
// the read keeps its own state, which the cache already received.
func (h hydrator) Apply(cached any, stale func() bool) {
	r := h.reg
	r.writeMu.Lock()
	if stale() {
		r.writeMu.Unlock()
		r.logger.Debug("cache hit ignored, store changed since read", "store", h.name)
		return
	}
	r.mu.Lock()
	old, ok := r.state[h.name]
	if !ok {
		r.mu.Unlock()
		r.writeMu.Unlock()
		return
	}
	r.state[h.name] = cached
	newSnap := clone.Value(cached)
	r.mu.Unlock()
	deliveries := r.subs.Collect(h.name, newSnap, old)
	r.writeMu.Unlock()

	r.logger.Info("store hydrated from cache", "store", h.name)
	if err := r.subs.Dispatch(deliveries); err != nil {
		r.reportError(err)
	}
}

// Seed queues the current state under writeMu, ordered with Persist calls
// from mutations.
func (h hydrator) Seed(stale func() bool, write func(state any)) {
	r := h.reg
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if stale() {
		return
	}
	state, ok := r.snapshot(h.name)
	if !ok {
		return
	}
	write(state)
}

func (r *Registry) snapshot(path string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := keypath.Read(r.state, path)
	if !ok {
		return nil, false
	}
	return clone.Value(v), true
}

func (r *Registry) registerTeardown(host LifecycleHost, path string, sub subscribe.Subscriber) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("lifecycle host rejected teardown", "path", path, "panic", p)
		}
	}()
	host.OnCleanup(func() {
		r.subs.Unsubscribe(path, sub)
	})
}

func (r *Registry) reportError(err error) {
	if r.onError == nil {
		return
	}
	var serr *subscribe.SubscriberError
	for _, e := range unwrapJoined(err) {
		if errors.As(e, &serr) {
			r.onError(serr)
		} else {
			r.onError(e)
		}
	}
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func splitStore(path string) (name, rel string) {
	name, rel, _ = strings.Cut(path, keypath.Separator)
	return name, rel
}

// suggest returns the sibling key closest to the last segment of rel.
func suggest(root any, rel string) string {
	segs := keypath.Split(rel)
	if len(segs) == 0 {
		return ""
	}
	last := segs[len(segs)-1]
	keys := keypath.Keys(root, keypath.Join(segs[:len(segs)-1]...))
	sort.Strings(keys)

	best, bestDist := "", len(last)/2+1
	for _, k := range keys {
		if d := levenshtein.ComputeDistance(last, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}
