// Package server implements the local HTTP API over the catalog cache.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/tcgcache/internal/app"
	"github.com/eugener/tcgcache/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Catalog        *app.Catalog
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	OpenCircuits   func() []string    // upstream hosts currently short-circuited
	AdminToken     string             // "" = admin routes open
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics route
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/cards", s.handleSearchCards)
		r.Get("/cards/{id}", s.handleCard)
		r.Get("/sets", s.handleSets)
		r.Get("/random", s.handleRandom)
		r.Get("/prices", s.handlePrices)
		r.Get("/images", s.handleImage)
		r.Get("/events", s.handleEvents)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authenticateAdmin)
		r.Delete("/cache/{namespace}", s.handleClearCache)
		r.Post("/images/cleanup", s.handleImageCleanup)
		r.Post("/sweep", s.handleSweep)
	})

	return r
}

type server struct {
	deps Deps
}
