package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/ecommerce-metrics/internal/auth"
	"github.com/jcmexdev/ecommerce-metrics/internal/httpx/middlewares"
	"github.com/jcmexdev/ecommerce-metrics/internal/pkg/metrics"
)

// NewRouter mounts the full HTTP surface. Admin mutations live under
// /admin behind the identity provider; the stream endpoint is not
// instrumented because long-lived connections would skew the duration
// histogram.
func NewRouter(handler *Handler, verifier auth.TokenVerifier) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/orders", metrics.Instrument("create_order", handler.CreateOrder))
	r.Get("/orders/{id}", metrics.Instrument("get_order", handler.GetOrderByID))

	r.Get("/metrics/summary", metrics.Instrument("metrics_summary", handler.GetMetricsSummary))
	r.Get("/metrics/stream", handler.StreamMetrics)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.RequireAdmin(verifier))
		r.Patch("/orders/{id}/status", metrics.Instrument("update_status", handler.UpdateOrderStatus))
		r.Post("/orders/{id}/refund", metrics.Instrument("refund_order", handler.RefundOrder))
		r.Post("/metrics/rebuild", metrics.Instrument("rebuild_metrics", handler.RebuildMetrics))
	})

	return r
}
