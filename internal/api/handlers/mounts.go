package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/caster"
	"github.com/2rtk/ntripcaster/pkg/rtcm"
)

// inspectBufferSize caps the per-mount record buffer for live
// inspections driven through the API. Oldest records are dropped.
const inspectBufferSize = 256

// MountHandler handles the live mount endpoints: registry snapshots,
// force disconnect, and realtime inspection control.
type MountHandler struct {
	caster *caster.Caster

	mu    sync.Mutex
	feeds map[string]*inspectFeed
}

// NewMountHandler creates a new MountHandler.
func NewMountHandler(c *caster.Caster) *MountHandler {
	return &MountHandler{
		caster: c,
		feeds:  make(map[string]*inspectFeed),
	}
}

// MountStatus is one live mount in the snapshot response.
type MountStatus struct {
	caster.MountInfo
	Subscribers   int    `json:"subscribers"`
	SlowEvictions uint64 `json:"slow_evictions"`
	InspectActive bool   `json:"inspect_active"`
}

// InspectRecord is one buffered record from a live inspection.
type InspectRecord struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Record    any       `json:"record"`
}

// inspectFeed buffers records produced by one mount's live inspection.
type inspectFeed struct {
	mu      sync.Mutex
	records []InspectRecord
}

func (f *inspectFeed) push(kind string, at time.Time, record any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) >= inspectBufferSize {
		f.records = f.records[1:]
	}
	f.records = append(f.records, InspectRecord{Kind: kind, Timestamp: at, Record: record})
}

func (f *inspectFeed) snapshot() []InspectRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]InspectRecord, len(f.records))
	copy(out, f.records)
	return out
}

// List handles GET /api/v1/mounts.
// Returns a snapshot of every live mount with stream statistics.
func (h *MountHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.caster.Registry.List()

	response := make([]MountStatus, 0, len(infos))
	for _, info := range infos {
		status := MountStatus{
			MountInfo:     info,
			InspectActive: h.caster.RealtimeActive(info.Name),
		}
		if stats, ok := h.caster.Forwarder.Stats(info.Name); ok {
			status.Subscribers = stats.Subscribers
			status.SlowEvictions = stats.SlowEvictions
		}
		response = append(response, status)
	}

	WriteJSONOK(w, response)
}

// Get handles GET /api/v1/mounts/{name}.
func (h *MountHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, ok := h.caster.Registry.Lookup(name)
	if !ok {
		NotFound(w, "Mount is not live")
		return
	}

	status := MountStatus{
		MountInfo:     info,
		InspectActive: h.caster.RealtimeActive(name),
	}
	if stats, ok := h.caster.Forwarder.Stats(name); ok {
		status.Subscribers = stats.Subscribers
		status.SlowEvictions = stats.SlowEvictions
	}

	WriteJSONOK(w, status)
}

// Kick handles DELETE /api/v1/mounts/{name}.
// Force-disconnects the producer and all its subscribers.
func (h *MountHandler) Kick(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if _, ok := h.caster.Registry.Lookup(name); !ok {
		NotFound(w, "Mount is not live")
		return
	}

	logger.Info("mount kicked by admin", logger.Mount(name))
	h.caster.Registry.Remove(name, "kicked by admin")
	WriteNoContent(w)
}

// InspectStart handles POST /api/v1/mounts/{name}/inspect.
// Attaches a live inspection whose records are buffered for retrieval
// via InspectRecords.
func (h *MountHandler) InspectStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	feed := &inspectFeed{}
	callbacks := rtcm.Callbacks{
		OnGeography: func(g rtcm.Geography) {
			feed.push("geography", g.Timestamp, g)
		},
		OnDeviceInfo: func(d rtcm.DeviceInfo) {
			feed.push("device_info", d.Timestamp, d)
		},
		OnBitrate: func(b rtcm.Bitrate) {
			feed.push("bitrate", b.Timestamp, b)
		},
		OnMessageStats: func(s rtcm.MessageStats) {
			feed.push("message_stats", s.Timestamp, s)
		},
		OnMSM: func(m rtcm.MsmSatellite) {
			feed.push("msm", m.Timestamp, m)
		},
	}

	if err := h.caster.StartRealtime(name, callbacks); err != nil {
		if errors.Is(err, caster.ErrMountNotLive) {
			NotFound(w, "Mount is not live")
			return
		}
		Conflict(w, "Inspection already running for this mount")
		return
	}

	h.mu.Lock()
	h.feeds[name] = feed
	h.mu.Unlock()

	WriteJSONCreated(w, map[string]string{"mount": name, "state": "inspecting"})
}

// InspectRecords handles GET /api/v1/mounts/{name}/inspect.
// Returns the records buffered since the inspection started.
func (h *MountHandler) InspectRecords(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	h.mu.Lock()
	feed, ok := h.feeds[name]
	h.mu.Unlock()
	if !ok {
		NotFound(w, "No inspection running for this mount")
		return
	}

	WriteJSONOK(w, feed.snapshot())
}

// InspectStop handles DELETE /api/v1/mounts/{name}/inspect.
func (h *MountHandler) InspectStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	h.mu.Lock()
	_, ok := h.feeds[name]
	delete(h.feeds, name)
	h.mu.Unlock()
	if !ok {
		NotFound(w, "No inspection running for this mount")
		return
	}

	h.caster.StopRealtime(name)
	WriteNoContent(w)
}
