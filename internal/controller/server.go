// Package controller serves the indexing HTTP API.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fhirindex/internal/controller/handlers"
	"fhirindex/internal/controller/middleware"
)

// Options configures the server's middleware and extra endpoints.
type Options struct {
	// APIKeyHash is the hex SHA-256 of the API key. Empty leaves /api open.
	APIKeyHash string
	// RateLimit is requests per second per client on /api. 0 is unlimited.
	RateLimit float64
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP server for the indexing API.
type Server struct {
	httpServer *http.Server
}

// New creates a new API server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           Routes(h, opts),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Minute,
			// immediate jobs hold the connection until they finish
			WriteTimeout: 0,
		},
	}
}

// Routes builds the request router.
func Routes(h *handlers.Handlers, opts Options) http.Handler {
	authMW := middleware.APIKey(opts.APIKeyHash)
	rateMW := middleware.NewRateLimiter(opts.RateLimit).Middleware()
	protect := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.Handle("POST /api/jobs", protect(h.SubmitJob))
	mux.Handle("POST /api/jobs/immediate", protect(h.IndexImmediate))
	mux.Handle("POST /api/jobs/actions", protect(h.ActOnJob))
	mux.Handle("GET /api/jobs", protect(h.ListJobs))
	mux.Handle("GET /api/jobs/{id}", protect(h.GetJob))
	mux.Handle("GET /api/index", protect(h.IndexIdentifier))

	return middleware.RequestLogger(opts.Logger)(mux)
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
