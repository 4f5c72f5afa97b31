package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
	"github.com/ticketvault/hold-purchase-links/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(rl))

	r.Route("/v1/holds", func(r chi.Router) {
		r.Post("/", h.CreateHold)
		r.Get("/{id}", h.GetHold)
		r.Patch("/{id}", h.UpdateHold)
		r.Delete("/{id}", h.DeleteHold)
		r.Post("/{id}/release", h.ReleaseHold)
		r.Get("/{id}/summary", h.GetHoldSummary)
		r.Post("/{id}/allocations", h.AddAllocation)
		r.Patch("/{id}/allocations/{allocationID}", h.UpdateAllocation)
	})

	r.Route("/v1/purchase-links", func(r chi.Router) {
		r.Post("/", h.CreateLink)
		r.Patch("/{id}", h.UpdateLink)
		r.Delete("/{id}", h.DeleteLink)
		r.Post("/{id}/revoke", h.RevokeLink)
		r.Get("/{id}/conversion", h.GetLinkConversion)
	})

	r.Route("/v1/purchase-link/{code}", func(r chi.Router) {
		r.Get("/", h.VisitLink)
		r.Post("/quote", h.QuoteLink)
		r.With(RequireIdempotencyKey).Post("/purchase", h.PurchaseLink)
	})

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
