// Package httpapi exposes a store.Registry over HTTP for inspection.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /stores                    list store names
//	POST   /stores/{name}             create a store from a JSON body
//	GET    /stores/{name}?path=       read a value
//	PUT    /stores/{name}?path=&mode= write a value (mode update|set)
//	DELETE /stores/{name}             drop the store
//	DELETE /stores/{name}/cache       delete the store's cache entry
//	GET    /stores/{name}/eval?expr=  evaluate an expression
//	GET    /stores/{name}/watch?path=&filter=
//	                                  stream changes over a websocket
package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/katai/pkg/cache"
	"github.com/vango-dev/katai/pkg/middleware"
	"github.com/vango-dev/katai/pkg/query"
	"github.com/vango-dev/katai/pkg/store"
)

// Server serves the inspection API for one registry.
type Server struct {
	reg      *store.Registry
	eval     *query.Evaluator
	adapter  cache.Adapter
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	metrics  *middleware.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	watches map[string]*watch
	closed  bool

	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer serves g on /metrics. Without it /metrics is not mounted.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHTTPMetrics records request and websocket metrics into m.
func WithHTTPMetrics(m *middleware.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithCacheAdapter lets POST /stores/{name}?cache=true bind new stores to
// adapter.
func WithCacheAdapter(adapter cache.Adapter) Option {
	return func(s *Server) {
		s.adapter = adapter
	}
}

// WithEvaluator shares an expression evaluator (and its program cache).
func WithEvaluator(e *query.Evaluator) Option {
	return func(s *Server) {
		s.eval = e
	}
}

// New creates a Server for reg.
func New(reg *store.Registry, opts ...Option) *Server {
	s := &Server{
		reg:     reg,
		logger:  slog.Default().With("component", "httpapi"),
		watches: make(map[string]*watch),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.eval == nil {
		s.eval = query.New()
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.OpenTelemetry(middleware.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
	})))
	r.Use(s.metrics.Handler)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/stores", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{name}", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/", s.handleGet)
			r.Put("/", s.handlePut)
			r.Delete("/", s.handleDrop)
			r.Delete("/cache", s.handleClearCache)
			r.Get("/eval", s.handleEval)
			r.Get("/watch", s.handleWatch)
		})
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// WatchCount returns the number of open watch connections.
func (s *Server) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Close closes every watch connection and disposes their subscriptions.
// New watch requests are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	watches := make([]*watch, 0, len(s.watches))
	for _, w := range s.watches {
		watches = append(watches, w)
	}
	s.mu.Unlock()

	for _, w := range watches {
		w.close()
	}
}
