package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
)

// Server represents the HTTP server
type Server struct {
	addr   string
	server *http.Server
	logger logger.Logger
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowAnonymous bool
}

// ServerDeps are the collaborators mounted on the router
type ServerDeps struct {
	Commands CommandUseCase
	Verifier *TokenVerifier
	Throttle ThrottleService
	Logger   logger.Logger
}

// NewRouter builds the mux router with every route and middleware
func NewRouter(config ServerConfig, deps ServerDeps) *mux.Router {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoop()
	}

	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeSuccessResponse(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
	}).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware(deps.Verifier, config.AllowAnonymous))
	api.Use(throttleMiddleware(deps.Throttle, log))
	NewCommandHandler(deps.Commands).RegisterRoutes(api)

	router.Use(recoveryMiddleware(log))
	router.Use(correlationMiddleware)
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware)

	return router
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, deps ServerDeps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoop()
	}
	addr := net.JoinHostPort(config.Host, config.Port)
	return &Server{
		addr:   addr,
		logger: log,
		server: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(config, deps),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Starting HTTP server", map[string]interface{}{"addr": s.addr})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}
