package store

import (
	"log/slog"

	"github.com/vango-dev/katai/pkg/cache"
	"github.com/vango-dev/katai/pkg/metrics"
)

// LifecycleHost receives teardown callbacks. *owner.Owner implements it.
type LifecycleHost interface {
	OnCleanup(fn func())
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithCacheController sets the controller that syncs cache-bound stores.
// The registry does not close a controller passed this way.
func WithCacheController(c *cache.Controller) Option {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
			r.ownsCache = false
		}
	}
}

// WithHostResolver sets a function returning the lifecycle host of the
// current context, used when Subscribe is called without WithHost. It may
// return nil.
func WithHostResolver(fn func() LifecycleHost) Option {
	return func(r *Registry) {
		r.hostResolver = fn
	}
}

// WithErrorHandler sets a callback for subscriber failures. Failures are
// logged whether or not a handler is set.
func WithErrorHandler(fn func(error)) Option {
	return func(r *Registry) {
		r.onError = fn
	}
}

// CreateOption configures a store at creation.
type CreateOption func(*createConfig)

type createConfig struct {
	adapter cache.Adapter
	key     string
	codec   cache.Codec
}

// WithCache binds the store to adapter.
func WithCache(adapter cache.Adapter) CreateOption {
	return func(c *createConfig) {
		c.adapter = adapter
	}
}

// WithCacheKey sets the store's cache key. Default: the store name.
// Setting a key without WithCache is an error.
func WithCacheKey(key string) CreateOption {
	return func(c *createConfig) {
		c.key = key
	}
}

// WithCodec overrides the cache codec for the store.
func WithCodec(codec cache.Codec) CreateOption {
	return func(c *createConfig) {
		c.codec = codec
	}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	immediate bool
	host      LifecycleHost
}

// Immediate calls the subscriber once with the current value before
// Subscribe returns.
func Immediate() SubscribeOption {
	return func(c *subscribeConfig) {
		c.immediate = true
	}
}

// WithHost unregisters the subscription when host tears down.
func WithHost(host LifecycleHost) SubscribeOption {
	return func(c *subscribeConfig) {
		c.host = host
	}
}
