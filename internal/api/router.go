// Package api serves the admin JSON API on the web port.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2rtk/ntripcaster/internal/api/auth"
	"github.com/2rtk/ntripcaster/internal/api/handlers"
	apiMiddleware "github.com/2rtk/ntripcaster/internal/api/middleware"
	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/caster"
	"github.com/2rtk/ntripcaster/pkg/metrics"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe (pings the credential store)
//   - GET /metrics - Prometheus scrape endpoint (404 when disabled)
//   - POST /api/v1/auth/login - Admin authentication
//   - GET /api/v1/auth/me - Current admin identity
//   - POST /api/v1/auth/password - Change own admin password
//   - GET /api/v1/mounts - Live mount snapshot
//   - GET /api/v1/mounts/{name} - One live mount
//   - DELETE /api/v1/mounts/{name} - Force-disconnect a producer
//   - POST /api/v1/mounts/{name}/inspect - Start realtime inspection
//   - GET /api/v1/mounts/{name}/inspect - Buffered inspection records
//   - DELETE /api/v1/mounts/{name}/inspect - Stop realtime inspection
//   - /api/v1/credentials/users/* - Rover account CRUD
//   - /api/v1/credentials/mounts/* - Mount credential CRUD
//
// Everything under /api/v1 except login requires a bearer token.
func NewRouter(c *caster.Caster, st *store.Store, jwtService *auth.JWTService) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(st, c)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Prometheus scrape endpoint - unauthenticated, 404 when disabled
	r.Handle("/metrics", metrics.Handler())

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	authHandler := handlers.NewAuthHandler(st, jwtService)
	mountHandler := handlers.NewMountHandler(c)
	credentialHandler := handlers.NewCredentialHandler(st)

	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.JWTAuth(jwtService))
				r.Get("/me", authHandler.Me)
				r.Post("/password", authHandler.ChangePassword)
			})
		})

		// Protected routes - admin token required
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(jwtService))

			// Live mounts
			r.Route("/mounts", func(r chi.Router) {
				r.Get("/", mountHandler.List)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", mountHandler.Get)
					r.Delete("/", mountHandler.Kick)
					r.Route("/inspect", func(r chi.Router) {
						r.Post("/", mountHandler.InspectStart)
						r.Get("/", mountHandler.InspectRecords)
						r.Delete("/", mountHandler.InspectStop)
					})
				})
			})

			// Credential management
			r.Route("/credentials", func(r chi.Router) {
				r.Route("/users", func(r chi.Router) {
					r.Post("/", credentialHandler.CreateUser)
					r.Get("/", credentialHandler.ListUsers)
					r.Post("/{username}/password", credentialHandler.ResetUserPassword)
					r.Delete("/{username}", credentialHandler.DeleteUser)
				})
				r.Route("/mounts", func(r chi.Router) {
					r.Post("/", credentialHandler.CreateMount)
					r.Get("/", credentialHandler.ListMounts)
					r.Put("/{name}", credentialHandler.UpdateMount)
					r.Delete("/{name}", credentialHandler.DeleteMount)
				})
			})
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger is a custom middleware that logs requests using the
// internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
