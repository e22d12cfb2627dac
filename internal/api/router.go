package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBody))

	if s.metricsCfg.Enabled && s.collectors != nil {
		r.Handle(s.metricsPath(), s.collectors.Handler())
	}

	r.Get(s.wsPath(), s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/registry", s.handleRegistry)
		r.Get("/registry/devices/{id}", s.handleGetDevice)
		r.Get("/modules", s.handleModules)
		r.Get("/ui", s.handleUI)

		// One sub-router per module: the host's own routes first, then
		// whatever the plugin mounts.
		for _, module := range s.dispatcher.Modules() {
			plugin, _ := s.dispatcher.Plugin(module)
			r.Route("/"+module, func(r chi.Router) {
				r.Post("/cmd", s.handleCommand(module))
				r.Get("/jobs", s.handleListJobs(module))
				r.Get("/jobs/{id}", s.handleGetJob(module))
				if rp, ok := plugin.(dispatcher.RouteProvider); ok {
					rp.Routes(r)
				}
			})
		}
	})

	return r
}

func (s *Server) metricsPath() string {
	if s.metricsCfg.Path == "" {
		return "/metrics"
	}
	return s.metricsCfg.Path
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
