package handlers

import (
	"net/http"
	"time"

	"github.com/2rtk/ntripcaster/pkg/caster"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store   *store.Store
	caster  *caster.Caster
	started time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(st *store.Store, c *caster.Caster) *HealthHandler {
	return &HealthHandler{store: st, caster: c, started: time.Now()}
}

// healthResponse is the body for health endpoints.
type healthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	LiveMounts int    `json:"live_mounts"`
	Error      string `json:"error,omitempty"`
}

// Liveness handles GET /health.
// Always returns 200 while the process is serving requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{
		Status:     "healthy",
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		LiveMounts: len(h.caster.Registry.List()),
	})
}

// Readiness handles GET /health/ready.
// Verifies the credential store is reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Error:  err.Error(),
		})
		return
	}

	WriteJSONOK(w, healthResponse{
		Status:     "healthy",
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		LiveMounts: len(h.caster.Registry.List()),
	})
}
