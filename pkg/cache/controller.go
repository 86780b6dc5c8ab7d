// Package cache synchronizes named stores with an external cache.
//
// A Controller holds at most one binding per store. When a store is bound it
// reads the cached entry in the background: a non-empty mapping or sequence
// replaces the in-memory state, anything else seeds the cache with the
// current state. After every mutation the full state is written back, and
// dropping or clearing a store deletes its entry. All adapter calls run off
// the caller's goroutine, one at a time per key in the order they were
// issued; Wait blocks until they settle.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/katai/pkg/metrics"
)

// DefaultPrefix is the first component of every composite key.
const DefaultPrefix = "katai"

const tracerName = "github.com/vango-dev/katai/pkg/cache"

// ErrControllerClosed is returned by Bind after Close.
var ErrControllerClosed = errors.New("cache: controller closed")

// CompositeKey derives the adapter key for a store. An empty key defaults to
// the store name.
func CompositeKey(prefix, store, key string) string {
	if key == "" {
		key = store
	}
	return prefix + "-" + store + "-" + key
}

// Options describe a store's cache binding.
type Options struct {
	// Key is the configured cache key. Default: the store name.
	Key string

	// Adapter is the backend. Required.
	Adapter Adapter

	// Codec overrides the controller's codec for this store.
	Codec Codec
}

// Option configures a Controller.
type Option func(*Controller)

// WithPrefix sets the composite key prefix.
// Default: DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(c *Controller) {
		c.prefix = prefix
	}
}

// WithCodec sets the default codec.
// Default: JSONCodec.
func WithCodec(codec Codec) Option {
	return func(c *Controller) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithTimeout bounds each adapter call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the tracer used for adapter spans.
// Default: otel.Tracer of this package.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// binding is one store's attachment to an adapter.
type binding struct {
	store   string
	key     string
	adapter Adapter
	codec   Codec
	entry   *entry
	dropped atomic.Bool
}

// entry queues the adapter calls for one composite key, across successive
// bindings of the same store name. Each call takes a ticket when it is issued
// and runs only after every lower ticket has finished.
type entry struct {
	mu     sync.Mutex
	turn   *sync.Cond
	issued uint64
	done   uint64
	// last write or delete ticket
	mutated uint64

	// bindings using the key; guarded by Controller.mu
	refs int
}

func newEntry() *entry {
	e := &entry{}
	e.turn = sync.NewCond(&e.mu)
	return e
}

func (e *entry) ticket(mutates bool) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.issued++
	if mutates {
		e.mutated = e.issued
	}
	return e.issued
}

func (e *entry) await(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.done != seq-1 {
		e.turn.Wait()
	}
}

func (e *entry) finish(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = seq
	e.turn.Broadcast()
}

// supersededAfter reports whether a write or delete was issued after seq.
func (e *entry) supersededAfter(seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mutated > seq
}

func (e *entry) idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done == e.issued
}

// Hydrator receives the outcome of a read-through. Its methods run on a
// background goroutine. stale reports whether the binding was dropped or a
// write or delete for the store was issued after the read; callers check it
// under the same lock that serializes their Persist calls.
type Hydrator interface {
	// Apply replaces the store state with a non-empty cached value.
	Apply(cached any, stale func() bool)

	// Seed passes the current state to write when the cache holds nothing
	// usable.
	Seed(stale func() bool, write func(state any))
}

// Controller manages cache bindings.
type Controller struct {
	mu       sync.Mutex
	bindings map[string]*binding
	entries  map[string]*entry
	closed   bool

	prefix  string
	codec   Codec
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a Controller with no bindings.
func NewController(opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		bindings: make(map[string]*binding),
		entries:  make(map[string]*entry),
		prefix:   DefaultPrefix,
		codec:    JSONCodec{},
		logger:   slog.Default().With("component", "cache"),
		tracer:   otel.Tracer(tracerName),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind attaches store to an adapter and returns its composite key. A store
// that is already bound is rebound.
func (c *Controller) Bind(store string, opts Options) (string, error) {
	if opts.Adapter == nil {
		return "", ErrMissingAdapter
	}
	codec := opts.Codec
	if codec == nil {
		codec = c.codec
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrControllerClosed
	}

	key := CompositeKey(c.prefix, store, opts.Key)
	e, ok := c.entries[key]
	if !ok {
		e = newEntry()
		c.entries[key] = e
	}
	e.refs++
	if old, ok := c.bindings[store]; ok {
		old.dropped.Store(true)
		old.entry.refs--
		c.pruneLocked(old.key, old.entry)
	}
	c.bindings[store] = &binding{
		store:   store,
		key:     key,
		adapter: opts.Adapter,
		codec:   codec,
		entry:   e,
	}
	return key, nil
}

// Key returns the composite key of a bound store.
func (c *Controller) Key(store string) (string, bool) {
	b := c.binding(store)
	if b == nil {
		return "", false
	}
	return b.key, true
}

// Bound reports whether store has a binding.
func (c *Controller) Bound(store string) bool {
	return c.binding(store) != nil
}

// Hydrate reads the cached entry for store in the background, after every
// adapter call already issued for its key. If the entry holds a non-empty
// mapping or sequence, h.Apply is called with the decoded value. Otherwise
// h.Seed is asked for the state to write. A failed read leaves both the state
// and the cache untouched.
func (c *Controller) Hydrate(store string, h Hydrator) {
	b := c.binding(store)
	if b == nil {
		return
	}
	c.enqueue(b, false, func(ctx context.Context, seq uint64) {
		if b.dropped.Load() {
			return
		}
		var data []byte
		err := c.do(ctx, "read", b, func(ctx context.Context) error {
			var err error
			data, err = b.adapter.Read(ctx, b.key)
			return err
		})
		if err != nil {
			return
		}

		var cached any
		if len(data) > 0 {
			cached, err = b.codec.Unmarshal(data)
			if err != nil {
				c.logger.Warn("cache entry undecodable, reseeding",
					"store", b.store, "key", b.key, "codec", b.codec.Name(), "error", err)
				cached = nil
			}
		}

		stale := func() bool {
			return b.dropped.Load() || b.entry.supersededAfter(seq)
		}
		if NonEmpty(cached) {
			c.logger.Debug("cache hit replaces state", "store", b.store, "key", b.key)
			h.Apply(cached, stale)
			return
		}
		h.Seed(stale, func(state any) { c.persist(b, state) })
	})
}

// Persist writes state as the full cache entry for store. state must not be
// mutated afterwards; it is encoded before Persist returns.
func (c *Controller) Persist(store string, state any) {
	if b := c.binding(store); b != nil {
		c.persist(b, state)
	}
}

func (c *Controller) persist(b *binding, state any) {
	if b.dropped.Load() {
		return
	}
	data, err := b.codec.Marshal(state)
	if err != nil {
		c.metrics.RecordCacheOp("write", 0, err)
		c.logger.Error("cache encode failed", "store", b.store, "key", b.key, "error", err)
		return
	}
	c.enqueue(b, true, func(ctx context.Context, seq uint64) {
		if b.dropped.Load() || b.entry.supersededAfter(seq) {
			return
		}
		_ = c.do(ctx, "write", b, func(ctx context.Context) error {
			return b.adapter.Write(ctx, b.key, data)
		})
	})
}

// Clear deletes the cache entry of store and keeps the binding, so later
// mutations write it again.
func (c *Controller) Clear(store string) {
	if b := c.binding(store); b != nil {
		c.delete(b)
	}
}

// Drop removes the binding of store and deletes its cache entry. Writes
// still queued for the binding are discarded.
func (c *Controller) Drop(store string) {
	c.mu.Lock()
	b := c.bindings[store]
	if b != nil {
		delete(c.bindings, store)
		b.dropped.Store(true)
		b.entry.refs--
	}
	c.mu.Unlock()
	if b == nil {
		return
	}
	c.delete(b)
}

func (c *Controller) delete(b *binding) {
	c.enqueue(b, true, func(ctx context.Context, seq uint64) {
		if b.entry.supersededAfter(seq) {
			return
		}
		_ = c.do(ctx, "delete", b, func(ctx context.Context) error {
			return b.adapter.Delete(ctx, b.key)
		})
	})
}

// enqueue issues a ticket on the binding's entry and runs fn in the
// background once the ticket's turn comes.
func (c *Controller) enqueue(b *binding, mutates bool, fn func(ctx context.Context, seq uint64)) {
	e := b.entry
	seq := e.ticket(mutates)
	run := func(ctx context.Context) {
		e.await(seq)
		defer c.release(b.key, e, seq)
		if ctx.Err() == nil {
			fn(ctx, seq)
		}
	}
	if !c.spawn(run) {
		// Closed: still pass the turn on so later tickets are not stuck.
		go func() {
			e.await(seq)
			c.release(b.key, e, seq)
		}()
	}
}

func (c *Controller) release(key string, e *entry, seq uint64) {
	e.finish(seq)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(key, e)
}

// pruneLocked forgets an entry no binding uses once its queue is empty.
// Callers hold c.mu.
func (c *Controller) pruneLocked(key string, e *entry) {
	if e.refs == 0 && e.idle() && c.entries[key] == e {
		delete(c.entries, key)
	}
}

// Wait blocks until every background adapter call has returned or ctx is
// done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels in-flight adapter calls and waits for them to return.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Controller) binding(store string) *binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindings[store]
}

func (c *Controller) spawn(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
	return true
}

// do runs one adapter call inside a span and records its outcome. The
// controller timeout bounds the call itself, not the wait for its turn.
func (c *Controller) do(ctx context.Context, op string, b *binding, fn func(context.Context) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "katai.cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("katai.store", b.store),
			attribute.String("katai.cache.key", b.key),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	c.metrics.RecordCacheOp(op, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("cache operation failed",
			"op", op, "store", b.store, "key", b.key, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// NonEmpty reports whether v is a mapping with at least one key or a
// non-empty sequence.
func NonEmpty(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return false
	}
}
