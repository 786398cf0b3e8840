package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-dmx/internal/panel"
)

// healthCheckTimeout bounds the component checks behind GET /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Browser console. It carries no data of its own; its API calls
	// authenticate like any other client.
	r.Get("/", http.RedirectHandler("/panel/", http.StatusFound).ServeHTTP)
	r.Get("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently).ServeHTTP)
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.PanelDir)))

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated monitoring endpoints
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket authenticates with a ticket, since browsers cannot set
		// headers on the upgrade request.
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/scripts", func(r chi.Router) {
				r.Get("/", s.handleListScripts)
				r.Post("/check", s.handleCheckScript)
			})

			r.Route("/engine", func(r chi.Router) {
				r.Get("/", s.handleEngineStatus)
				r.Post("/start", s.handleStartScript)
				r.Post("/stop", s.handleStopScript)
			})

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Get("/{id}", s.handleGetRun)
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the server version and the state of each component.
// Any failing component turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		if err := checker.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
