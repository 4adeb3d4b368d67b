package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/2rtk/ntripcaster/internal/api/auth"
	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/caster"
	"github.com/2rtk/ntripcaster/pkg/config"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// Server is the admin HTTP server. It carries the JSON management API,
// the health probes, and the Prometheus scrape endpoint; NTRIP traffic
// never touches it.
//
// The server supports graceful shutdown with a fixed timeout.
type Server struct {
	server       *http.Server
	config       config.WebConfig
	shutdownOnce sync.Once
}

// NewServer creates the admin API server.
//
// The server is created in a stopped state. Call Start() to begin
// serving requests.
func NewServer(cfg config.WebConfig, c *caster.Caster, st *store.Store, jwtService *auth.JWTService) *Server {
	router := NewRouter(c, st, jwtService)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		server: server,
		config: cfg,
	}
}

// Start starts the admin API server and blocks until the context is
// cancelled or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and
// returns.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "port", s.config.Port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("admin API shutdown signal received")
		// Don't use the cancelled ctx: it would abort the drain
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the admin API server.
//
// Stop is safe to call multiple times and safe to call concurrently
// with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin API shutdown error: %w", err)
			logger.Error("admin API shutdown error", "error", err)
		} else {
			logger.Info("admin API stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is configured for.
func (s *Server) Port() int {
	return s.config.Port
}
