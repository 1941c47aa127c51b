package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes builds the operations router. hc may be nil in tests that
// only exercise /api.
func SetupRoutes(h *Handlers, hc *HealthChecker, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/leads/{id}", func(r chi.Router) {
			r.Post("/score/recompute", h.RecomputeScore)
			r.Post("/score/adjust", h.AdjustScore)
			r.Post("/score/set", h.SetScore)
			r.Post("/score/multiply", h.MultiplyScore)
			r.Post("/decay", h.DecayLead)
			r.Post("/segments/sync", h.SyncLeadSegments)
		})

		r.Route("/scores", func(r chi.Router) {
			r.Post("/adjust-batch", h.AdjustBatch)
			r.Get("/decay-statistics", h.DecayStatistics)
		})

		r.Route("/segments/{id}", func(r chi.Router) {
			r.Post("/sync", h.SyncSegment)
			r.Get("/leads", h.SegmentMembers)
			r.Get("/preview", h.PreviewSegment)
			r.Put("/leads/{leadID}", h.AddSegmentLead)
			r.Delete("/leads/{leadID}", h.RemoveSegmentLead)
		})

		r.Post("/sweeps/{job}", h.TriggerSweep)
		r.Get("/reports", h.ListReports)
	})

	return r
}
