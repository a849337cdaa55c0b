// Package server exposes a sharing service over the Delta Sharing REST
// protocol.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/florinutz/deltashare"
	"github.com/florinutz/deltashare/health"
	"github.com/florinutz/deltashare/inspect"
	"github.com/florinutz/deltashare/internal/ratelimit"
	"github.com/florinutz/deltashare/tracing"
)

// Config wires the optional parts of the HTTP surface. Zero values disable
// the corresponding feature.
type Config struct {
	// CORSOrigins controls Access-Control-Allow-Origin; "*" allows all.
	CORSOrigins []string
	// QueryLimiter throttles the query route.
	QueryLimiter *ratelimit.Limiter
	Checker      *health.Checker
	Readiness    *health.ReadinessChecker
	// ServeMetrics mounts /metrics on the API router. Leave it off when a
	// separate metrics server is running.
	ServeMetrics   bool
	TracerProvider trace.TracerProvider
	// Inspector records table requests and mounts /debug/inspect.
	Inspector *inspect.Inspector

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Logger *slog.Logger
}

// New creates an HTTP server for svc.
func New(svc *deltashare.Service, cfg Config) *http.Server {
	return &http.Server{
		Handler:      Handler(svc, cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Handler returns the chi router serving the sharing routes.
func Handler(svc *deltashare.Service, cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{svc: svc, logger: logger.With("component", "http"), inspector: cfg.Inspector}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(corsMiddleware(cfg.CORSOrigins))
	}

	mountProbes(r, cfg.Checker, cfg.Readiness)
	if cfg.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Inspector != nil {
		r.Get("/debug/inspect", inspect.Handler(cfg.Inspector))
		r.Get("/debug/inspect/stream", inspect.SSEHandler(cfg.Inspector))
	}

	r.Group(func(r chi.Router) {
		if cfg.TracerProvider != nil {
			r.Use(tracing.Middleware(cfg.TracerProvider))
		}
		a.routes(r, cfg.QueryLimiter)
	})
	return r
}

// NewMetricsServer creates a standalone HTTP server for metrics and health
// endpoints only. Used when server.metrics_addr is set.
func NewMetricsServer(checker *health.Checker, readiness *health.ReadinessChecker) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	mountProbes(r, checker, readiness)
	r.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func mountProbes(r chi.Router, checker *health.Checker, readiness *health.ReadinessChecker) {
	if checker != nil {
		r.Get("/healthz", checker.ServeHTTP)
	}
	if readiness != nil {
		r.Get("/readyz", readiness.ServeHTTP)
	}
}

// corsMiddleware returns a middleware that sets Access-Control-Allow-Origin
// for requests whose Origin header matches one of the allowed origins.
// The wildcard "*" matches every origin.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
			break
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Expose-Headers", versionHeader+", "+capabilityHeader)
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+capabilityHeader)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
