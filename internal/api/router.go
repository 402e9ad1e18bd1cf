package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nullaxis/intibridge/internal/webui"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// The control endpoints are GET with query parameters rather than a
// JSON-body RPC style: the consumer is a chat frontend firing commands
// from trigger rules, and a URL it can template is the whole interface.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Embedded test page
	r.Handle("/ui/*", http.StripPrefix("/ui", webui.Handler()))
	r.Handle("/ui", http.RedirectHandler("/ui/", http.StatusMovedPermanently))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/ui/", http.StatusTemporaryRedirect)
	})

	// Introspection
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)

	// Device inventory and selection
	r.Get("/devices", s.handleListDevices)
	r.Post("/device", s.handleSelectDevice)

	// Control
	r.Get("/vibrate", s.handleVibrate)
	r.Get("/stop", s.handleStop)
	r.Get("/scan", s.handleScan)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"connected": s.bridge.Connected(),
	})
}
