package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.handleListNodes)
			r.Get("/{address}", s.handleGetNode)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth reports overall status plus one entry per checked
// component. Any failing component makes the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}
	status := http.StatusOK

	if len(s.checks) > 0 {
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Components = make(map[string]string, len(names))
		for _, name := range names {
			if err := s.checks[name].HealthCheck(r.Context()); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}
