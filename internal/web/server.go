package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// Deps are the services exposed over HTTP.
type Deps struct {
	Registry   handlers.IdentityRegistry
	Embeddings database.EmbeddingReader
	Samples    handlers.SampleExtractor
	Enroller   handlers.Enroller
	Matcher    handlers.IdentityMatcher
	Attendance handlers.AttendanceService
	Logs       database.RecognitionLogStore
	Sessions   *recognition.Manager
	NewSession handlers.SessionFactory
	// OnEnrolled runs after an enrollment changed stored embeddings.
	OnEnrolled func()
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps, port int, host string, log *logger.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		router: r,
		log:    log.With("component", "web"),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // enrollment uploads
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops every recognition session and waits for their cameras to be
// released, then stops the HTTP server. Stopped sessions close their event
// streams, so open SSE connections end before the server drains.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")

	var errs []error
	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping recognition sessions: %w", err))
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down server: %w", err))
	}
	return errors.Join(errs...)
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
