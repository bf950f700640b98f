// Package http provides the HTTP server and API surface for reelcut.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/reelcut/reelcut/internal/admission"
	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/database"
	"github.com/reelcut/reelcut/internal/http/handlers"
	"github.com/reelcut/reelcut/internal/http/middleware"
	"github.com/reelcut/reelcut/internal/progress"
	"github.com/reelcut/reelcut/internal/service"
	"github.com/reelcut/reelcut/internal/storage"
)

// Deps carries everything the API surface needs. SigningKey is the
// decoded bearer-token key; decoding happens once at startup.
type Deps struct {
	Version    string
	Config     *config.Config
	SigningKey []byte
	DB         *database.DB
	Jobs       *service.JobService
	Bus        *progress.Bus
	Blobs      *storage.Store
	Granter    *storage.Granter
	Limits     *admission.Controller
	Logger     *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router, middleware chain and all API routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	auth := middleware.NewAuthenticator(deps.SigningKey)

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(deps.Config.Server.CORSOrigins))
	router.Use(middleware.Compression())
	// The health probe needs no token and the upload PUT carries its own
	// signed grant; everything else requires a bearer token.
	router.Use(authExcept(auth, "/health", handlers.UploadPath, "/docs", "/openapi.json", "/openapi.yaml"))

	humaConfig := huma.DefaultConfig("reelcut API", version)
	humaConfig.Info.Description = "Lecture video to highlight clips processing API"
	api := humachi.New(router, humaConfig)

	handlers.NewJobHandler(deps.Jobs, deps.Limits).Register(api)
	handlers.NewCredentialHandler(deps.Jobs, deps.Limits).Register(api)
	handlers.NewHealthHandler(version, deps.DB, deps.Limits, &deps.Config.Auth).Register(api)

	upload := handlers.NewUploadHandler(deps.Blobs, deps.Granter, int64(deps.Config.Limits.MaxUploadSize), logger)
	router.Method(http.MethodPut, handlers.UploadPath, upload)

	stream := handlers.NewStreamHandler(deps.Jobs, deps.Bus, deps.Limits, logger)
	router.Method(http.MethodGet, "/api/v1/jobs/{id}/stream", stream)

	return &Server{
		cfg:    deps.Config.Server,
		router: router,
		api:    api,
		logger: logger,
	}
}

// API returns the huma API, used by tests to register against the same
// configuration.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	addr := s.cfg.Address()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	s.logger.Info("starting HTTP server", slog.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown drains connections within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe blocks until ctx is canceled or the server fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// authExcept protects every route except the named paths.
func authExcept(auth *middleware.Authenticator, exempt ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		protected := auth.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}
