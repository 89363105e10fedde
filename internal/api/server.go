package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/cync-bridge/internal/exporter"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Shutdown waits for in-flight
// requests before forcing the listener down.
const gracefulShutdownTimeout = 10 * time.Second

// Restarter lets the API trigger the supervisor's shutdown-and-restart
// path without this package importing the supervisor (which in turn
// owns this server).
type Restarter interface {
	Restart()
}

type noopRestarter struct{}

func (noopRestarter) Restart() {}

// Deps holds everything the admin HTTP surface needs.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Exporter  *exporter.Exporter
	Restarter Restarter
	Version   string
}

// Server is the controller-facing admin HTTP surface: export
// status/OTP/verify/download, restart, and Prometheus metrics.
type Server struct {
	cfg           config.APIConfig
	logger        *logging.Logger
	exporter      *exporter.Exporter
	restarter     Restarter
	sessionSecret string
	version       string

	httpServer *http.Server
}

// New builds a Server. Call Start to begin listening.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("api: logger is required")
	}
	if deps.Exporter == nil {
		return nil, fmt.Errorf("api: exporter is required")
	}
	restarter := deps.Restarter
	if restarter == nil {
		restarter = noopRestarter{}
	}
	return &Server{
		cfg:           deps.Config,
		logger:        deps.Logger,
		exporter:      deps.Exporter,
		restarter:     restarter,
		sessionSecret: deps.Config.SessionAuth.Secret,
		version:       deps.Version,
	}, nil
}

// Start begins listening in the background; it returns once the
// listener is bound, not once it stops.
func (s *Server) Start(ctx context.Context) error {
	router := s.buildRouter()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.ReadSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.ReadSeconds) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.WriteSeconds) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.IdleSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: listen on %s: %w", addr, err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		s.logger.Info("admin api listening", "addr", addr)
		go func() {
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("admin api server error", "error", err)
			}
		}()
		return nil
	}
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, gracefulShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutting down: %w", err)
	}
	return nil
}
