package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter wires every route this surface exposes: the exporter
// workflow (§6), the bearer-protected restart endpoint, and metrics.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/export", func(r chi.Router) {
		r.Get("/status", s.handleExportStatus)
		r.Post("/otp", s.handleExportOTP)
		r.Post("/verify", s.handleExportVerify)
		r.Get("/download", s.handleExportDownload)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearerAuth)
		r.Post("/api/restart", s.handleRestart)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}
