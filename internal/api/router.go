package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
)

func NewRouter(handler *Handler, health *HealthHandler, cfg config.ServerConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware (applied to all routes)
	r.Use(RecoveryMiddleware(logger))
	r.Use(CORSMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	// Health and metrics endpoints are registered BEFORE the rate limiter
	// so Kubernetes probes and Prometheus scrapes are never rejected under load.
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		rl := NewRateLimiter(cfg.MaxConcurrent, logger)
		r.Use(rl.Middleware)

		r.Get("/search", handler.Search)
		r.Get("/suggest", handler.Suggest)
		r.Get("/facets", handler.Facets)
		r.Get("/reindex/runs", handler.RecentRuns)

		r.With(ThrottleMiddleware(NewReindexLimiter(cfg.ReindexPerMinute), logger)).
			Post("/index-from-operador", handler.IndexFromCatalog)
	})

	return r
}
