// Package subscribe keeps path-keyed subscriptions and fans mutations out to
// them.
//
// Three kinds of subscription exist:
//
//   - exact: "users.5.name" fires only for mutations at that path.
//   - deep: "users.*" fires for mutations at or below "users", and receives
//     the current value at "users" rather than the mutated value.
//   - global: "" fires for every mutation and receives the whole tree.
//
// A fan-out delivers exact, then deep, then global subscriptions, each group
// in registration order. A failing or panicking subscriber does not stop the
// fan-out; its error is logged and returned joined with the others.
package subscribe

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/katai/pkg/clone"
	"github.com/vango-dev/katai/pkg/keypath"
	"github.com/vango-dev/katai/pkg/metrics"
)

// Match kinds reported in deliveries and metrics.
const (
	MatchExact  = "exact"
	MatchDeep   = "deep"
	MatchGlobal = "global"
)

// GlobalPath is the subscription path that matches every mutation.
const GlobalPath = ""

// Reader resolves the current value at a path. Implementations must return
// a value the caller may keep, typically a snapshot.
type Reader interface {
	Read(path string) (any, bool)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(path string) (any, bool)

// Read calls f.
func (f ReaderFunc) Read(path string) (any, bool) { return f(path) }

// Delivery is one queued notification.
type Delivery struct {
	Match      string
	Path       string
	Subscriber Subscriber
	NewValue   any
	OldValue   any
}

// Option configures a Registry.
type Option func(*Registry)

// WithReader sets the reader used to resolve deep and global values.
func WithReader(r Reader) Option {
	return func(reg *Registry) {
		reg.reader = r
	}
}

// WithCloner sets the function used to copy values per subscriber.
func WithCloner(fn clone.Func) Option {
	return func(reg *Registry) {
		if fn != nil {
			reg.clone = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(reg *Registry) {
		if logger != nil {
			reg.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(reg *Registry) {
		reg.metrics = m
	}
}

// Registry holds subscriptions keyed by path.
type Registry struct {
	mu    sync.RWMutex
	order []string
	subs  map[string][]Subscriber

	reader  Reader
	clone   clone.Func
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		subs:   make(map[string][]Subscriber),
		clone:  clone.Value,
		logger: slog.Default().With("component", "subscribe"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers sub at path. It reports false if sub is nil or a
// subscriber with the same ID is already registered at path.
func (r *Registry) Subscribe(path string, sub Subscriber) bool {
	if sub == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.subs[path]
	if !ok {
		r.order = append(r.order, path)
	}
	for _, existing := range list {
		if existing.ID() == sub.ID() {
			return false
		}
	}
	r.subs[path] = append(list, sub)
	r.metrics.SubscriptionsChanged(1)
	return true
}

// Unsubscribe removes sub from path. It reports whether it was registered.
func (r *Registry) Unsubscribe(path string, sub Subscriber) bool {
	if sub == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[path]
	for i, existing := range list {
		if existing.ID() != sub.ID() {
			continue
		}
		next := make([]Subscriber, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			r.deletePathLocked(path)
		} else {
			r.subs[path] = next
		}
		r.metrics.SubscriptionsChanged(-1)
		return true
	}
	return false
}

// RemoveAll removes every subscriber at path and returns how many there were.
func (r *Registry) RemoveAll(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.subs[path])
	if n > 0 {
		r.deletePathLocked(path)
		r.metrics.SubscriptionsChanged(-n)
	}
	return n
}

// RemovePrefix removes every subscription whose path is prefix or lies below
// it, deep subscriptions included. Global subscriptions are kept. It
// returns the number of subscribers removed.
func (r *Registry) RemovePrefix(prefix string) int {
	if prefix == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, path := range append([]string(nil), r.order...) {
		if path == GlobalPath {
			continue
		}
		if keypath.HasSegmentPrefix(keypath.TrimDeep(path), prefix) {
			removed += len(r.subs[path])
			r.deletePathLocked(path)
		}
	}
	r.metrics.SubscriptionsChanged(-removed)
	return removed
}

// ClearAll removes every subscription.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, list := range r.subs {
		n += len(list)
	}
	r.order = nil
	r.subs = make(map[string][]Subscriber)
	r.metrics.SubscriptionsChanged(-n)
}

// Count returns the number of subscribers at path.
func (r *Registry) Count(path string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[path])
}

// Paths returns the registered paths in registration order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Notify delivers a mutation at path to every matching subscriber.
// newValue and oldValue are the values at path after and before the change.
func (r *Registry) Notify(path string, newValue, oldValue any) error {
	return r.Dispatch(r.Collect(path, newValue, oldValue))
}

// Collect computes the ordered deliveries for a mutation at path without
// invoking anything. Deep and global values are resolved through the reader
// at the time of the call.
func (r *Registry) Collect(path string, newValue, oldValue any) []Delivery {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	subs := make(map[string][]Subscriber, len(order))
	for _, p := range order {
		subs[p] = append([]Subscriber(nil), r.subs[p]...)
	}
	r.mu.RUnlock()

	var out []Delivery

	if path != GlobalPath {
		for _, sub := range subs[path] {
			out = append(out, Delivery{Match: MatchExact, Path: path, Subscriber: sub, NewValue: newValue, OldValue: oldValue})
		}
	}

	resolved := make(map[string]any)
	for _, p := range order {
		if p == GlobalPath || !keypath.IsDeep(p) {
			continue
		}
		prefix := keypath.TrimDeep(p)
		if !keypath.HasSegmentPrefix(path, prefix) {
			continue
		}
		current, ok := resolved[prefix]
		if !ok {
			current = r.read(prefix, path, newValue)
			resolved[prefix] = current
		}
		for _, sub := range subs[p] {
			out = append(out, Delivery{Match: MatchDeep, Path: p, Subscriber: sub, NewValue: current, OldValue: oldValue})
		}
	}

	if globals := subs[GlobalPath]; len(globals) > 0 {
		root := r.read(GlobalPath, path, newValue)
		for _, sub := range globals {
			out = append(out, Delivery{Match: MatchGlobal, Path: GlobalPath, Subscriber: sub, NewValue: root, OldValue: root})
		}
	}
	return out
}

// Dispatch invokes deliveries in order. Each subscriber gets its own copy of
// the values. Failures are logged and joined into the returned error.
func (r *Registry) Dispatch(deliveries []Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	start := time.Now()
	var errs []error
	for _, d := range deliveries {
		err := r.invoke(d)
		r.metrics.RecordDelivery(d.Match, err)
		if err == nil {
			continue
		}
		serr := &SubscriberError{Path: d.Path, Match: d.Match, SubscriberID: d.Subscriber.ID(), Err: err}
		r.logger.Warn("subscriber failed",
			"path", d.Path,
			"match", d.Match,
			"subscriber", d.Subscriber.ID(),
			"error", err)
		errs = append(errs, serr)
	}
	r.metrics.ObserveFanout(time.Since(start))
	return errors.Join(errs...)
}

func (r *Registry) invoke(d Delivery) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return d.Subscriber.OnChange(r.clone(d.NewValue), r.clone(d.OldValue))
}

// read resolves the value at p. Without a reader only the mutated path itself
// can be resolved.
func (r *Registry) read(p, mutated string, newValue any) any {
	if r.reader == nil {
		if p == mutated {
			return newValue
		}
		return nil
	}
	v, _ := r.reader.Read(p)
	return v
}

func (r *Registry) deletePathLocked(path string) {
	delete(r.subs, path)
	for i, p := range r.order {
		if p == path {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}
