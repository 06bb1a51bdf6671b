// Package server assembles the query API: router, middleware and the http.Server around them.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	healthhandler "pulseboard/internal/health/handler"
	recordhandler "pulseboard/internal/record/handler"
	"pulseboard/internal/server/middleware"
	"pulseboard/internal/server/respond"
	"pulseboard/internal/telemetry"
	"pulseboard/internal/telemetry/metrics"
)

// Store is what the API needs from the record repository.
type Store interface {
	healthhandler.Pinger
	recordhandler.Store
}

// Deps holds the dependencies of the query API. Only Store is required for useful answers;
// a nil Store makes every data route answer 503.
type Deps struct {
	Store   Store
	Emitter telemetry.EventEmitter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// RateLimitRPS limits writes per client; 0 disables limiting.
	RateLimitRPS   int
	RateLimitBurst int
	// Now overrides the clock used for signals posted without a timestamp.
	Now func() time.Time
}

// untracedPaths are excluded from tracing and request telemetry.
var untracedPaths = map[string]bool{"/health": true, "/api/health": true, "/metrics": true}

// NewRouter returns the API handler.
//
// Routes are served at the root and, for existing clients, under /api, where
// /api/dashboard-data aliases /dashboard:
//
//	GET  /health
//	POST /signals
//	GET  /signals, /events, /emails
//	GET  /dashboard
//	GET  /metrics
func NewRouter(deps Deps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var store recordhandler.Store
	var pinger healthhandler.Pinger
	if deps.Store != nil {
		store, pinger = deps.Store, deps.Store
	}
	opts := []recordhandler.Option{recordhandler.WithEmitter(deps.Emitter)}
	if deps.Now != nil {
		opts = append(opts, recordhandler.WithClock(deps.Now))
	}
	records, err := recordhandler.New(store, opts...)
	if err != nil {
		return nil, err
	}
	health := healthhandler.New(pinger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.AccessLog(logger.With("component", "http"), deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Telemetry(deps.Emitter, untracedPaths))
	if deps.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(deps.RateLimitRPS, deps.RateLimitBurst).Middleware)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, r, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	mount := func(r chi.Router) {
		r.Method(http.MethodGet, "/health", health)
		records.Register(r)
	}
	mount(r)
	r.Route("/api", func(r chi.Router) {
		mount(r)
		r.Get("/dashboard-data", records.Dashboard)
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	return otelhttp.NewHandler(r, "pulseboard-api",
		otelhttp.WithFilter(func(r *http.Request) bool { return !untracedPaths[r.URL.Path] }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string { return r.Method + " " + r.URL.Path }),
	), nil
}

// New returns an http.Server for addr with conservative timeouts.
func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
