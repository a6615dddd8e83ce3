package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/labelq/labelq-api/internal/api"
	"github.com/labelq/labelq-api/internal/api/middleware"
	"github.com/labelq/labelq-api/internal/platform/metrics"
	"github.com/labelq/labelq-api/internal/service/assignment"
)

// newRouter wires the HTTP routes. Everything under /api requires the
// caller to identify itself via the X-User-ID header; /health and
// /metrics stay open for probes and scrapers.
func newRouter(service assignment.Service, reg *metrics.Registry, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if reg != nil {
		r.Method(http.MethodGet, "/metrics", reg.Handler())
	}

	taskHandler := api.NewTaskHandler(service, log)
	historyHandler := api.NewHistoryHandler(service, log)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.IdentityMiddleware)

		r.Post("/tasks/next", taskHandler.AssignNext)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Put("/tasks/{id}", taskHandler.DirectUpdate)
		r.Post("/tasks/{id}/release", taskHandler.Release)
		r.Post("/tasks/{id}/complete", taskHandler.Complete)
		r.Get("/stats", taskHandler.Stats)

		r.Get("/history", historyHandler.GetHistory)
		r.Post("/history/back", historyHandler.StepBack)
		r.Post("/history/forward", historyHandler.StepForward)
	})

	return r
}
