// Package server assembles the staff HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libradesk/internal/auth"
	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/httpx"
	"libradesk/internal/membership"
	"libradesk/internal/reports"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API exposes.
type Deps struct {
	Store   Pinger
	Books   catalog.Service
	Members membership.Service
	Loans   circulation.Service
	Reports *reports.Service
	// Auth guards /api/v1. Nil leaves the API open.
	Auth *auth.Authenticator
	// RPS and Burst size the API token bucket. Zero RPS means unlimited.
	RPS   float64
	Burst int
	// Registry receives the HTTP metrics. A fresh one is used when nil.
	Registry *prometheus.Registry
	Log      *zap.Logger
}

// NewRouter builds the chi router for the whole API.
func NewRouter(d Deps) http.Handler {
	log := d.Log.Named("http")
	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	metrics := newHTTPMetrics(reg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.instrument)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", healthz(d.Store, log))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	books := catalog.NewHandler(d.Books, log)
	members := membership.NewHandler(d.Members, log)
	loans := circulation.NewHandler(d.Loans, log)
	report := reports.NewHandler(d.Reports, log)

	r.Route("/api/v1", func(r chi.Router) {
		limit := rate.Inf
		if d.RPS > 0 {
			limit = rate.Limit(d.RPS)
		}
		r.Use(rateLimit(rate.NewLimiter(limit, d.Burst)))
		r.Post("/login", d.Auth.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Middleware)

			r.Route("/books", func(r chi.Router) {
				books.Routes(r)
				r.Post("/{id}/reconcile", loans.HandleReconcile)
			})
			r.Route("/members", members.Routes)
			r.Route("/transactions", loans.Routes)
			r.Route("/reports", report.Routes)
			r.Get("/audit", loans.HandleAudit)
		})
	})
	return r
}

func healthz(store Pinger, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Error("Database health check failed", zap.Error(err))
			httpx.Error(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		httpx.OK(w, "healthy", nil)
	}
}
