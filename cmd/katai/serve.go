package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/katai/internal/config"
	"github.com/vango-dev/katai/internal/errors"
	"github.com/vango-dev/katai/pkg/cache"
	"github.com/vango-dev/katai/pkg/httpapi"
	"github.com/vango-dev/katai/pkg/metrics"
	"github.com/vango-dev/katai/pkg/middleware"
	"github.com/vango-dev/katai/pkg/store"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inspection API",
		Long: `Start the HTTP inspection API with the stores declared in the
config file.

Stores marked cached are hydrated from the cache backend on startup and
written through on every change. Pending cache writes are flushed on
shutdown.

Examples:
  katai serve
  katai serve --addr=:8080
  KATAI_CACHE_BACKEND=sqlite katai serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				opts.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from server.addr)")

	return cmd
}

// app is everything serve wires together.
type app struct {
	reg     *store.Registry
	ctrl    *cache.Controller
	backend *backend
	server  *httpapi.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.Default()

	var (
		m       *metrics.Metrics
		httpM   *middleware.Metrics
		promReg *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithRegistry(promReg),
		)
		httpM = middleware.NewMetrics(
			middleware.WithNamespace(cfg.Metrics.Namespace),
			middleware.WithRegistry(promReg),
		)
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ctrl := cache.NewController(
		cache.WithPrefix(cfg.Cache.Prefix),
		cache.WithCodec(b.codec),
		cache.WithLogger(logger.With("component", "cache")),
		cache.WithMetrics(m),
	)
	reg := store.New(
		store.WithLogger(logger.With("component", "store")),
		store.WithMetrics(m),
		store.WithCacheController(ctrl),
	)

	for _, sc := range cfg.Stores {
		var initial any = sc.Initial
		if sc.Initial == nil {
			initial = map[string]any{}
		}
		var createOpts []store.CreateOption
		if sc.Cached || sc.CacheKey != "" {
			createOpts = append(createOpts, store.WithCache(b.adapter))
		}
		if sc.CacheKey != "" {
			createOpts = append(createOpts, store.WithCacheKey(sc.CacheKey))
		}
		if _, err := reg.Create(sc.Name, initial, createOpts...); err != nil {
			reg.Close()
			ctrl.Close()
			b.Close()
			return nil, err
		}
		logger.Info("store created", "store", sc.Name, "cached", len(createOpts) > 0)
	}

	serverOpts := []httpapi.Option{
		httpapi.WithLogger(logger.With("component", "httpapi")),
		httpapi.WithHTTPMetrics(httpM),
	}
	if promReg != nil {
		serverOpts = append(serverOpts, httpapi.WithGatherer(promReg))
	}
	if b.adapter != nil {
		serverOpts = append(serverOpts, httpapi.WithCacheAdapter(b.adapter))
	}

	return &app{
		reg:     reg,
		ctrl:    ctrl,
		backend: b,
		server:  httpapi.New(reg, serverOpts...),
	}, nil
}

// Close flushes pending cache work and releases everything in reverse
// order of construction.
func (a *app) Close(ctx context.Context) error {
	a.server.Close()
	if err := a.reg.Flush(ctx); err != nil {
		slog.Warn("cache flush incomplete", "error", err)
	}
	a.reg.Close()
	a.ctrl.Close()
	return a.backend.Close()
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Server.Addr, "cache", cfg.Cache.Backend, "stores", len(cfg.Stores))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err, ok := <-errCh:
		if ok {
			serveErr = errors.New("K060").Wrap(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Watch connections are hijacked; Shutdown does not wait for them.
	a.server.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = errors.New("K060").Wrap(err)
	}
	if err := a.Close(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
