// Package middleware provides net/http middleware for the katai inspection
// server.
//
// This package includes:
//   - OpenTelemetry request tracing
//   - Prometheus request and websocket metrics
//   - Structured request logging with log/slog
//
// All three are plain func(http.Handler) http.Handler values and can be
// mounted on any chi router:
//
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//
//	r := chi.NewRouter()
//	r.Use(middleware.OpenTelemetry())
//	r.Use(m.Handler)
//	r.Use(middleware.Logger(slog.Default()))
//
// Route labels come from the chi route pattern ("/stores/{name}") rather
// than the raw URL, so store names do not create new label values.
package middleware
