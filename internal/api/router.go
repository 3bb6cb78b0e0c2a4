package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.cfg.CORS.Enabled {
		r.Use(corsMiddleware)
	}

	// SPARQL 1.1 Protocol
	r.Get("/query", s.handle(s.handleQueryGet))
	r.Post("/query", s.handle(s.handleQueryPost))
	r.Post("/update", s.handle(s.handleUpdate))

	// Graph Store HTTP Protocol: indirect and direct graph identification
	r.HandleFunc("/store", s.handle(s.handleStore))
	r.HandleFunc("/store/*", s.handle(s.handleStore))

	if s.searcher != nil {
		r.Get("/search", s.handle(s.handleSearch))
	}

	r.HandleFunc("/", s.handle(s.handleLanding))
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.NotFound(s.handle(notSupported))
	r.MethodNotAllowed(s.handle(notSupported))

	return r
}

func notSupported(_ http.ResponseWriter, r *http.Request) error {
	return notFound("%s %s is not supported by this server", r.Method, r.URL.Path)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
