// Package server wires the router, middleware and handlers together and
// owns the lifetime of the database and the interpreter.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/execserver/internal/auth"
	"github.com/sakif/execserver/internal/handler"
	"github.com/sakif/execserver/internal/kernel"
	"github.com/sakif/execserver/internal/middleware"
	sqliteRepo "github.com/sakif/execserver/internal/repository/sqlite"
	"github.com/sakif/execserver/internal/service"
)

// Config holds server configuration.
type Config struct {
	Addr            string
	DBPath          string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxCodeLength   int
	// Tokens guards every API route except health when non-nil.
	Tokens *auth.TokenService
}

// Kernel is the interpreter the server executes against.
type Kernel interface {
	kernel.Executor
	Start(ctx context.Context) error
	Info() kernel.Info
	Close() error
}

// Server is the HTTP server and the resources it owns.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	kernel Kernel
}

// New opens the database and builds the router. The server takes
// ownership of k and closes it on shutdown.
func New(cfg Config, logger *slog.Logger, k Kernel) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		kernel: k,
	}
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes registers:
//
//	GET    /api/health
//	POST   /api/execute
//	GET    /api/kernel
//	GET    /api/notebooks
//	POST   /api/notebooks
//	GET    /api/notebooks/{id}
//	PUT    /api/notebooks/{id}
//	DELETE /api/notebooks/{id}
//	POST   /api/notebooks/{id}/run
//	GET    /metrics
//
// CORS sits in front of everything so preflights never reach auth.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS())

	executeHandler := handler.NewExecuteHandler(s.kernel, s.config.MaxCodeLength, s.logger)
	notebookService := service.NewNotebookService(s.db, s.kernel, s.logger)
	notebookHandler := handler.NewNotebookHandler(notebookService, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HandleHealth)

		r.Group(func(r chi.Router) {
			if s.config.Tokens != nil {
				r.Use(auth.RequireAuth(s.config.Tokens, handler.WriteError))
			}
			r.Post("/execute", executeHandler.HandleExecute)
			r.Get("/kernel", handler.HandleKernelInfo(s.kernel))
			r.Route("/notebooks", notebookHandler.Routes)
		})
	})

	s.router.Handle("/metrics", promhttp.Handler())
}

// Start warms the interpreter up, serves until ctx is cancelled and then
// shuts down gracefully, closing the interpreter and the database.
//
// There is no write timeout: an execution may legitimately run for as long
// as the submitted code takes.
func (s *Server) Start(ctx context.Context) error {
	defer s.db.Close()
	defer s.kernel.Close()

	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.kernel.Start(ctx); err != nil {
			s.logger.Warn("interpreter warm-up failed; retrying on first execution",
				slog.String("error", err.Error()),
			)
			return
		}
		info := s.kernel.Info()
		s.logger.Info("interpreter ready",
			slog.String("backend", info.Backend),
			slog.String("python", info.Version),
			slog.Int("pid", info.PID),
		)
	}()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", s.config.Addr),
			slog.String("database", s.config.DBPath),
			slog.Bool("auth", s.config.Tokens != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// Close releases the server's resources without serving. Start does this
// itself on return.
func (s *Server) Close() error {
	return errors.Join(s.kernel.Close(), s.db.Close())
}
