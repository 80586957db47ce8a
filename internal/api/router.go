// Package api provides the HTTP API of subsetd.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/modisviirs/subsetd/internal/api/handler"
	"github.com/modisviirs/subsetd/internal/api/middleware"
	"github.com/modisviirs/subsetd/internal/provider/resilience"
	"github.com/modisviirs/subsetd/internal/subset"
)

// DefaultSubsetRateLimit is the per IP subset limit when RouterConfig.RateLimit is unset.
const DefaultSubsetRateLimit = 60

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	// Service answers the product and subset endpoints (required).
	Service *subset.Service
	// Registry exposes upstream circuit state on the ops endpoints.
	Registry *resilience.Registry

	// RateLimit is the number of subset requests per minute per client IP.
	RateLimit  int
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)
	r.Use(chimiddleware.Compress(5, "application/json", "text/csv"))

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = DefaultSubsetRateLimit
	}

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Service)
	subsetHandler := handler.NewSubsetHandler(cfg.Service)

	listingLimit := middleware.RateLimitByIP(middleware.ListingRateLimit)
	subsetLimit := middleware.RateLimitByIP(middleware.PerMinute(rateLimit))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/products", func(r chi.Router) {
			r.With(listingLimit).Get("/", subsetHandler.ListProducts)

			r.Route("/{product}", func(r chi.Router) {
				r.With(listingLimit).Get("/bands", subsetHandler.ListBands)
				r.With(listingLimit).Get("/dates", subsetHandler.ListDates)

				// One subset request fans out into a date listing plus one call per chunk.
				r.With(subsetLimit).Get("/subset", subsetHandler.GetSubset)
			})
		})
	})

	return r
}
