package api

import (
	"net/http"

	"github.com/ECHOITWEB/teampulse-sub005/internal/auth"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler, authMiddleware auth.Middleware, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"teampulse-ai-gateway"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/chat/completions", h.HandleCompletion)
		r.Get("/v1/usage", h.HandleUsage)
		r.Post("/v1/jobs", h.HandleEnqueue)
		r.Get("/v1/jobs/{id}", h.HandleJob)
		// any tenant key can read pool state; there is no admin role yet
		r.Get("/v1/admin/credentials", h.HandleCredentials)
	})

	return r
}
