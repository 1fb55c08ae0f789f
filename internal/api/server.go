package api

import (
	"context"
	"net/http"
	"time"
)

// Server wraps the router in an http.Server with redirect-appropriate
// timeouts; every response here is a small JSON body or a 302.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer builds the server around the handler set.
func NewServer(h *Handlers, adminOrigins []string) *Server {
	return &Server{handler: SetupRoutes(h, adminOrigins)}
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
