package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/journal"
	"github.com/mattjoyce/conduit/internal/protocol"
)

// Controller is the part of the bridge the API drives.
type Controller interface {
	SubmitEvent(ev protocol.Event)
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	Stats() bridge.Stats
}

// SessionLister reads the session journal.
type SessionLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Session, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Token, when set, is required as a bearer token on every route but /healthz.
	Token string
	// LifecycleTimeout bounds /start and /restart, which may compile the worker.
	LifecycleTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	bridge    Controller
	hub       *events.Hub
	sessions  SessionLister
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. sessions may be nil.
func New(config Config, ctrl Controller, hub *events.Hub, sessions SessionLister, logger *slog.Logger) *Server {
	if config.LifecycleTimeout <= 0 {
		config.LifecycleTimeout = 2 * time.Minute
	}
	return &Server{
		config:    config,
		bridge:    ctrl,
		hub:       hub,
		sessions:  sessions,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: /stream responses stay open.
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.Token != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/status", s.handleStatus)
		r.Post("/events", s.handleSubmit)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/restart", s.handleRestart)
		r.Get("/stream", s.handleStream)
		r.Get("/sessions", s.handleSessions)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
