// Package metrics exposes Prometheus collectors for store activity.
//
// All Record methods are safe on a nil *Metrics, so components can hold an
// optional collector without guarding every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "katai").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for fan-out and cache latency.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "katai",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the store collectors.
type Metrics struct {
	mutationsTotal     *prometheus.CounterVec
	deliveriesTotal    *prometheus.CounterVec
	subscriberFailures *prometheus.CounterVec
	fanoutDuration     prometheus.Histogram
	cacheOpsTotal      *prometheus.CounterVec
	cacheOpDuration    *prometheus.HistogramVec
	stores             prometheus.Gauge
	subscriptions      prometheus.Gauge
}

// New registers the collectors with the configured registry.
//
// Metrics collected:
//   - katai_mutations_total: Counter of mutations by store and status
//   - katai_deliveries_total: Counter of subscriber deliveries by match kind
//   - katai_subscriber_failures_total: Counter of failed deliveries by match kind
//   - katai_fanout_duration_seconds: Histogram of fan-out latency
//   - katai_cache_operations_total: Counter of cache operations by op and status
//   - katai_cache_operation_duration_seconds: Histogram of cache latency by op
//   - katai_stores: Gauge of registered stores
//   - katai_subscriptions: Gauge of registered subscriptions
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		mutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "mutations_total",
			Help:        "Total number of store mutations",
			ConstLabels: config.ConstLabels,
		}, []string{"store", "status"}),

		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "deliveries_total",
			Help:        "Total number of subscriber deliveries",
			ConstLabels: config.ConstLabels,
		}, []string{"match"}),

		subscriberFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriber_failures_total",
			Help:        "Total number of subscriber callbacks that failed or panicked",
			ConstLabels: config.ConstLabels,
		}, []string{"match"}),

		fanoutDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "fanout_duration_seconds",
			Help:        "Time spent delivering one mutation to its subscribers",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		cacheOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cache_operations_total",
			Help:        "Total number of cache adapter operations",
			ConstLabels: config.ConstLabels,
		}, []string{"op", "status"}),

		cacheOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cache_operation_duration_seconds",
			Help:        "Cache adapter operation duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"op"}),

		stores: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "stores",
			Help:        "Number of registered stores",
			ConstLabels: config.ConstLabels,
		}),

		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriptions",
			Help:        "Number of registered subscriptions",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// RecordMutation counts a mutation of store.
func (m *Metrics) RecordMutation(store string, err error) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(store, status(err)).Inc()
}

// RecordDelivery counts one subscriber delivery of the given match kind
// ("exact", "deep" or "global").
func (m *Metrics) RecordDelivery(match string, err error) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(match).Inc()
	if err != nil {
		m.subscriberFailures.WithLabelValues(match).Inc()
	}
}

// ObserveFanout records the latency of one fan-out.
func (m *Metrics) ObserveFanout(d time.Duration) {
	if m == nil {
		return
	}
	m.fanoutDuration.Observe(d.Seconds())
}

// RecordCacheOp counts a cache operation ("read", "write", "delete").
func (m *Metrics) RecordCacheOp(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.cacheOpsTotal.WithLabelValues(op, status(err)).Inc()
	m.cacheOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// StoreAdded increments the store gauge.
func (m *Metrics) StoreAdded() {
	if m == nil {
		return
	}
	m.stores.Inc()
}

// StoreDropped decrements the store gauge.
func (m *Metrics) StoreDropped() {
	if m == nil {
		return
	}
	m.stores.Dec()
}

// SubscriptionsChanged adjusts the subscription gauge by delta.
func (m *Metrics) SubscriptionsChanged(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.subscriptions.Add(float64(delta))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
