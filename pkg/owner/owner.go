// Package owner provides a disposable scope that runs teardown callbacks.
//
// An Owner satisfies the lifecycle host expected by store subscriptions:
// subscribing with an Owner unregisters the subscription when the Owner is
// disposed. Owners nest; disposing a parent disposes its children first.
package owner

import (
	"sync"
	"sync/atomic"
)

var idCounter atomic.Uint64

// Owner is a scope that owns cleanup callbacks and child scopes.
type Owner struct {
	id     uint64
	parent *Owner

	mu       sync.Mutex
	children []*Owner
	cleanups []func()
	disposed bool

	values   map[any]any
	valuesMu sync.RWMutex
}

// New creates an Owner. If parent is non-nil the new Owner is disposed along
// with it.
func New(parent *Owner) *Owner {
	o := &Owner{
		id:     idCounter.Add(1),
		parent: parent,
	}
	if parent != nil && !parent.addChild(o) {
		o.Dispose()
	}
	return o
}

// ID returns the unique identifier for this Owner.
func (o *Owner) ID() uint64 {
	return o.id
}

// Parent returns the parent Owner, or nil for a root Owner.
func (o *Owner) Parent() *Owner {
	return o.parent
}

// IsDisposed reports whether Dispose has been called.
func (o *Owner) IsDisposed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disposed
}

// OnCleanup registers fn to run when the Owner is disposed. If the Owner is
// already disposed, fn runs immediately.
func (o *Owner) OnCleanup(fn func()) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		fn()
		return
	}
	o.cleanups = append(o.cleanups, fn)
	o.mu.Unlock()
}

// SetValue stores a scoped value.
func (o *Owner) SetValue(key, value any) {
	o.valuesMu.Lock()
	defer o.valuesMu.Unlock()
	if o.values == nil {
		o.values = make(map[any]any)
	}
	o.values[key] = value
}

// Value looks up key in this Owner and then in its ancestors.
func (o *Owner) Value(key any) any {
	for cur := o; cur != nil; cur = cur.parent {
		cur.valuesMu.RLock()
		v, ok := cur.values[key]
		cur.valuesMu.RUnlock()
		if ok {
			return v
		}
	}
	return nil
}

// Dispose disposes children in reverse order, then runs cleanups in
// reverse registration order. Only the first call has any effect.
func (o *Owner) Dispose() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.disposed = true
	children := o.children
	cleanups := o.cleanups
	o.children = nil
	o.cleanups = nil
	o.mu.Unlock()

	if o.parent != nil {
		o.parent.removeChild(o)
	}

	for i := len(children) - 1; i >= 0; i-- {
		children[i].Dispose()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

func (o *Owner) addChild(child *Owner) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return false
	}
	o.children = append(o.children, child)
	return true
}

func (o *Owner) removeChild(child *Owner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i], o.children[i+1:]...)
			return
		}
	}
}
