package caster

import (
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2rtk/ntripcaster/internal/geo"
	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/config"
	"github.com/2rtk/ntripcaster/pkg/ntrip"
	"github.com/2rtk/ntripcaster/pkg/rtcm"
)

// STR row state: a freshly admitted mount advertises defaults until the
// inspection window rewrites the row from observed data.
const (
	strInitial   = "INITIAL"
	strCorrected = "CORRECTED"
)

const strFieldCount = 19

// MountInfo is a read-only snapshot of one registered mount.
type MountInfo struct {
	Name        string        `json:"name"`
	Addr        string        `json:"addr"`
	Agent       string        `json:"agent"`
	Dialect     string        `json:"dialect"`
	ConnectedAt time.Time     `json:"connected_at"`
	LastDataAt  time.Time     `json:"last_data_at"`
	TotalBytes  int64         `json:"total_bytes"`
	DataRateBPS float64       `json:"data_rate_bps"`
	StrState    string        `json:"str_state"`
	StrRow      string        `json:"str_row"`
	Uptime      time.Duration `json:"uptime_ns"`
}

type mountEntry struct {
	name        string
	addr        string
	host        string
	agent       string
	dialect     ntrip.Dialect
	handle      io.Closer
	generation  uint64
	connectedAt time.Time
	lastDataAt  time.Time
	totalBytes  int64

	rateWindowStart time.Time
	rateWindowBytes int64
	dataRateBPS     float64

	strState  string
	strFields []string
}

// Registry is the authoritative map of live mounts. Exactly one
// producer owns a mount name at any instant. All operations are short
// and never perform I/O under the lock; handle closes happen after the
// lock is released.
type Registry struct {
	caster config.CasterConfig
	app    config.AppConfig
	grace  time.Duration

	mu         sync.Mutex
	mounts     map[string]*mountEntry
	generation uint64

	forwarder *Forwarder

	// onAdmit schedules the initial inspection for a new mount. Set by
	// the server during composition; nil in tests that don't need it.
	onAdmit func(name string)
}

// NewRegistry creates a Registry bound to a Forwarder.
func NewRegistry(casterCfg config.CasterConfig, appCfg config.AppConfig, grace time.Duration, fwd *Forwarder) *Registry {
	return &Registry{
		caster:    casterCfg,
		app:       appCfg,
		grace:     grace,
		mounts:    make(map[string]*mountEntry),
		forwarder: fwd,
	}
}

// OnAdmit registers the callback invoked after each successful
// admission, outside the registry lock.
func (r *Registry) OnAdmit(fn func(name string)) {
	r.onAdmit = fn
}

// Admit registers a producer for a mount.
//
// A free name is admitted and gets an initial sourcetable row. A name
// held by a producer at a different address is a conflict and the
// holder is undisturbed. A name held by the same address is treated as
// a stale half-open leftover: the old entry is evicted and the new
// producer takes over. That readmission path is what keeps base
// stations with flaky uplinks alive without operator action.
func (r *Registry) Admit(name, addr, agent string, dialect ntrip.Dialect, handle io.Closer) error {
	host := hostOf(addr)

	var stale io.Closer

	r.mu.Lock()
	if prev, ok := r.mounts[name]; ok {
		if prev.host != host {
			r.mu.Unlock()
			return ntrip.ErrMountConflict
		}
		stale = prev.handle
	}

	r.generation++
	entry := &mountEntry{
		name:            name,
		addr:            addr,
		host:            host,
		agent:           agent,
		dialect:         dialect,
		handle:          handle,
		generation:      r.generation,
		connectedAt:     time.Now(),
		lastDataAt:      time.Now(),
		rateWindowStart: time.Now(),
		strState:        strInitial,
		strFields:       r.initialStrFields(name),
	}
	r.mounts[name] = entry
	r.mu.Unlock()

	if stale != nil {
		stale.Close()
		logger.Info("evicted stale producer on readmission",
			logger.Mount(name), logger.ClientIP(host))
	}

	r.forwarder.AddMount(name)

	if r.onAdmit != nil {
		r.onAdmit(name)
	}

	logger.Info("mount admitted",
		logger.Mount(name),
		logger.ClientIP(host),
		logger.Dialect(dialect.String()),
		"agent", agent)
	return nil
}

// MarkData records a producer chunk for uptime and rate accounting.
func (r *Registry) MarkData(name string, byteLen int) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.mounts[name]
	if !ok {
		return
	}

	entry.lastDataAt = now
	entry.totalBytes += int64(byteLen)
	entry.rateWindowBytes += int64(byteLen)

	if elapsed := now.Sub(entry.rateWindowStart); elapsed >= 5*time.Second {
		entry.dataRateBPS = float64(entry.rateWindowBytes*8) / elapsed.Seconds()
		entry.rateWindowStart = now
		entry.rateWindowBytes = 0
	}
}

// ApplyInspection rewrites the mount's sourcetable row from observed
// stream contents. Applying the same result twice yields the same row;
// an empty result leaves the row untouched.
func (r *Registry) ApplyInspection(name string, result rtcm.Result) {
	if inspectionEmpty(result) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.mounts[name]
	if !ok {
		return
	}

	f := entry.strFields
	if result.City != "" {
		f[2] = result.City
	}
	if len(result.Types) > 0 {
		f[4] = formatDetails(result)
	}
	if len(result.Carriers) > 0 {
		f[5] = strings.Join(result.Carriers, "+")
	}
	if len(result.Constellations) > 0 {
		f[6] = strings.Join(result.Constellations, "+")
	}
	if result.CountryISO3 != "" {
		f[8] = result.CountryISO3
	}
	if result.HasPosition {
		f[9] = fmt.Sprintf("%.4f", result.Latitude)
		f[10] = fmt.Sprintf("%.4f", result.Longitude)
	}
	if result.Receiver != "" {
		f[13] = result.Receiver
	}
	if result.BitrateBPS > 0 {
		f[17] = fmt.Sprintf("%d", result.BitrateBPS)
	}
	f[18] = "YES"
	entry.strState = strCorrected

	logger.Info("sourcetable row corrected",
		logger.Mount(name),
		"city", result.City,
		"receiver", result.Receiver,
		"bitrate_bps", result.BitrateBPS)
}

// Remove evicts a mount: the producer socket is closed, the fan-out
// stream dropped, and the name freed.
func (r *Registry) Remove(name, reason string) {
	r.mu.Lock()
	entry, ok := r.mounts[name]
	if ok {
		delete(r.mounts, name)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if entry.handle != nil {
		entry.handle.Close()
	}
	r.forwarder.DropMount(name)

	logger.Info("mount removed",
		logger.Mount(name),
		logger.Reason(reason),
		logger.Bytes(entry.totalBytes),
		"uptime", time.Since(entry.connectedAt).Round(time.Second).String())
}

// ScheduleRemoval removes the mount after the grace delay unless a
// readmission replaced the entry in the meantime. The delay lets
// subscribers drain in-flight chunks.
func (r *Registry) ScheduleRemoval(name, reason string) {
	r.mu.Lock()
	entry, ok := r.mounts[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	gen := entry.generation
	r.mu.Unlock()

	time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		entry, ok := r.mounts[name]
		stillSame := ok && entry.generation == gen
		r.mu.Unlock()

		if stillSame {
			r.Remove(name, reason)
		}
	})
}

// Lookup returns a snapshot of one mount.
func (r *Registry) Lookup(name string) (MountInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.mounts[name]
	if !ok {
		return MountInfo{}, false
	}
	return entry.snapshot(), true
}

// List returns snapshots of every live mount, sorted by name.
func (r *Registry) List() []MountInfo {
	r.mu.Lock()
	out := make([]MountInfo, 0, len(r.mounts))
	for _, entry := range r.mounts {
		out = append(out, entry.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StrRows returns every live mount's sourcetable row, sorted by name.
func (r *Registry) StrRows() []string {
	infos := r.List()
	rows := make([]string, len(infos))
	for i, info := range infos {
		rows[i] = info.StrRow
	}
	return rows
}

// ReconcileWithOS evicts mounts whose producer address no longer
// appears in the OS's established-connection table. A nil peer set
// means the platform probe is unavailable and nothing is evicted.
func (r *Registry) ReconcileWithOS(established map[string]struct{}) {
	if established == nil {
		return
	}

	r.mu.Lock()
	var zombies []string
	for name, entry := range r.mounts {
		if _, ok := established[entry.addr]; !ok {
			zombies = append(zombies, name)
		}
	}
	r.mu.Unlock()

	for _, name := range zombies {
		r.Remove(name, "zombie connection reconciled")
	}
}

// ReconcileMountWithOS evicts a single mount if its producer address is
// no longer established. Used on upload admission so a half-open
// leftover for the requested name does not block readmission.
func (r *Registry) ReconcileMountWithOS(name string, established map[string]struct{}) {
	if established == nil {
		return
	}

	r.mu.Lock()
	entry, ok := r.mounts[name]
	zombie := ok && !present(established, entry.addr)
	r.mu.Unlock()

	if zombie {
		r.Remove(name, "zombie connection reconciled")
	}
}

func present(set map[string]struct{}, addr string) bool {
	_, ok := set[addr]
	return ok
}

func (e *mountEntry) snapshot() MountInfo {
	return MountInfo{
		Name:        e.name,
		Addr:        e.addr,
		Agent:       e.agent,
		Dialect:     e.dialect.String(),
		ConnectedAt: e.connectedAt,
		LastDataAt:  e.lastDataAt,
		TotalBytes:  e.totalBytes,
		DataRateBPS: e.dataRateBPS,
		StrState:    e.strState,
		StrRow:      strings.Join(e.strFields, ";"),
		Uptime:      time.Since(e.connectedAt),
	}
}

// initialStrFields synthesizes the 19-field STR row a mount advertises
// before its stream has been inspected.
func (r *Registry) initialStrFields(name string) []string {
	identifier := "none"
	if place, ok := geo.ReverseGeocode(r.caster.Latitude, r.caster.Longitude, geo.DefaultMinPopulation); ok {
		identifier = place.City
	}

	f := make([]string, strFieldCount)
	f[0] = "STR"
	f[1] = name
	f[2] = identifier
	f[3] = "RTCM 3.2"
	f[4] = "1005"
	f[5] = "0"
	f[6] = "GPS"
	f[7] = r.app.Author
	f[8] = r.caster.Country
	f[9] = fmt.Sprintf("%.4f", r.caster.Latitude)
	f[10] = fmt.Sprintf("%.4f", r.caster.Longitude)
	f[11] = "0"
	f[12] = "0"
	f[13] = r.app.Name
	f[14] = "N"
	f[15] = "B"
	f[16] = "N"
	f[17] = "500"
	f[18] = "NO"
	return f
}

// formatDetails renders observed message ids with their per-second
// cadence, e.g. "1005(1),1074(1),1077(1)".
func formatDetails(result rtcm.Result) string {
	ids := make([]int, 0, len(result.Types))
	for id := range result.Types {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		freq := result.Frequency[id]
		if freq < 1 {
			freq = 1
		}
		parts[i] = fmt.Sprintf("%d(%d)", id, freq)
	}
	return strings.Join(parts, ",")
}

func inspectionEmpty(result rtcm.Result) bool {
	return len(result.Types) == 0 &&
		!result.HasPosition &&
		result.Receiver == "" &&
		result.BitrateBPS == 0
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
