package rtcm

import (
	"context"
	"io"
	"math"
	"sort"
	"time"

	"github.com/2rtk/ntripcaster/internal/geo"
	"github.com/2rtk/ntripcaster/internal/logger"
)

// Mode selects how long an Inspector runs and who consumes its records.
type Mode int

const (
	// ModeSTRFix observes a new upload for a fixed window, then stops.
	// Its final snapshot corrects the mount's sourcetable row.
	ModeSTRFix Mode = iota

	// ModeRealtime runs until stopped and pushes records to a callback
	// as they decode. Used by the admin UI's live view.
	ModeRealtime
)

func (m Mode) String() string {
	if m == ModeRealtime {
		return "realtime_web"
	}
	return "str_fix"
}

// Record types emitted by the Inspector. Each carries the mount and a
// timestamp so push consumers can route and order them.

// Geography is a decoded station position.
type Geography struct {
	Mount       string    `json:"mount"`
	Timestamp   time.Time `json:"timestamp"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	Height      float64   `json:"height"`
	CountryCode string    `json:"country_code"` // ISO alpha-2
	CountryISO3 string    `json:"country"`
	City        string    `json:"city"`
}

// DeviceInfo is the station hardware identity from message 1033.
type DeviceInfo struct {
	Mount     string    `json:"mount"`
	Timestamp time.Time `json:"timestamp"`
	Antenna   string    `json:"antenna"`
	Receiver  string    `json:"receiver"`
	Firmware  string    `json:"firmware"`
}

// Bitrate is one measured interval of the upload stream.
type Bitrate struct {
	Mount         string    `json:"mount"`
	Timestamp     time.Time `json:"timestamp"`
	BitsPerSecond int64     `json:"bitrate"`
}

// MessageStats summarizes observed message types and cadence.
type MessageStats struct {
	Mount          string      `json:"mount"`
	Timestamp      time.Time   `json:"timestamp"`
	Types          map[int]int `json:"types"`     // cumulative counts
	Frequency      map[int]int `json:"frequency"` // messages per second, min 1
	Constellations []string    `json:"gnss"`
	Carriers       []string    `json:"carriers"`
}

// MsmSatellite is the latest decoded MSM epoch for live display.
type MsmSatellite struct {
	Mount     string    `json:"mount"`
	Timestamp time.Time `json:"timestamp"`
	Epoch     MSMEpoch  `json:"epoch"`
}

// Callbacks receive records as they are produced. Nil members are
// skipped. Callbacks run on the inspector goroutine and must not block.
type Callbacks struct {
	OnGeography    func(Geography)
	OnDeviceInfo   func(DeviceInfo)
	OnBitrate      func(Bitrate)
	OnMessageStats func(MessageStats)
	OnMSM          func(MsmSatellite)
}

// Result is the accumulated inspection state. A Result is a plain
// value: applying it to a sourcetable row is the registry's job, and
// applying the same Result twice must be idempotent.
type Result struct {
	Mount          string
	Types          map[int]int
	Frequency      map[int]int
	Constellations []string
	Carriers       []string

	HasPosition bool
	Latitude    float64
	Longitude   float64
	Height      float64
	CountryISO3 string
	City        string

	Antenna  string
	Receiver string
	Firmware string

	BitrateBPS int64
}

// Config tunes one inspection run.
type Config struct {
	Mount string
	Mode  Mode

	// ParseDuration bounds ModeSTRFix runs. Default 30s.
	ParseDuration time.Duration

	// WarmUp is ignored lead-in time before bitrate accounting starts,
	// letting producer-side buffers drain. Default 5s.
	WarmUp time.Duration

	// StatsInterval is the bitrate/stats emission period. Default 10s.
	StatsInterval time.Duration

	// MinPopulation is the reverse-geocoding population floor.
	MinPopulation int
}

func (c *Config) applyDefaults() {
	if c.ParseDuration == 0 {
		c.ParseDuration = 30 * time.Second
	}
	if c.WarmUp == 0 {
		c.WarmUp = 5 * time.Second
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = 10 * time.Second
	}
	if c.MinPopulation == 0 {
		c.MinPopulation = geo.DefaultMinPopulation
	}
}

// Inspector consumes a tapped copy of a producer stream and classifies
// it. Parse errors never propagate to forwarding; the inspector logs at
// debug level and keeps scanning.
type Inspector struct {
	cfg       Config
	callbacks Callbacks
	scanner   *Scanner

	result        Result
	intervalTypes map[int]int
	gnssSet       map[string]struct{}
	carrierSet    map[string]struct{}

	started        time.Time
	warmupDone     bool
	intervalStart  time.Time
	intervalBytes  int64
	latestEpochSet bool
}

// NewInspector creates an Inspector for one mount.
func NewInspector(cfg Config, callbacks Callbacks) *Inspector {
	cfg.applyDefaults()
	return &Inspector{
		cfg:       cfg,
		callbacks: callbacks,
		scanner:   NewScanner(),
		result: Result{
			Mount:     cfg.Mount,
			Types:     make(map[int]int),
			Frequency: make(map[int]int),
		},
		intervalTypes: make(map[int]int),
		gnssSet:       make(map[string]struct{}),
		carrierSet:    make(map[string]struct{}),
	}
}

// Run consumes r until it closes, the context is canceled, or (in
// ModeSTRFix) the parse window elapses. It returns the final Result.
func (i *Inspector) Run(ctx context.Context, r io.Reader) Result {
	i.started = time.Now()
	i.intervalStart = i.started

	data := make(chan []byte, 16)
	go func() {
		defer close(data)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case data <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(i.cfg.StatsInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if i.cfg.Mode == ModeSTRFix {
		timer := time.NewTimer(i.cfg.ParseDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case chunk, ok := <-data:
			if !ok {
				i.flushStats(time.Now())
				return i.Snapshot()
			}
			i.consume(chunk)
		case now := <-ticker.C:
			i.flushStats(now)
		case <-deadline:
			i.flushStats(time.Now())
			logger.Debug("inspection window elapsed", "mount", i.cfg.Mount, "mode", i.cfg.Mode.String())
			return i.Snapshot()
		case <-ctx.Done():
			return i.Snapshot()
		}
	}
}

// consume feeds bytes through the scanner and classifies every frame.
func (i *Inspector) consume(chunk []byte) {
	now := time.Now()
	if !i.warmupDone {
		if now.Sub(i.started) >= i.cfg.WarmUp {
			i.warmupDone = true
			i.intervalStart = now
			i.intervalBytes = 0
		}
	}
	if i.warmupDone {
		// Warm-up bytes are excluded: producer-side buffers flushing on
		// connect would inflate the first bitrate sample.
		i.intervalBytes += int64(len(chunk))
	}

	for _, frame := range i.scanner.Feed(chunk) {
		i.classify(frame)
	}
}

func (i *Inspector) classify(f Frame) {
	now := time.Now()
	i.result.Types[f.Type]++
	i.intervalTypes[f.Type]++

	if info, ok := LookupCarrier(f.Type); ok {
		i.gnssSet[info.Constellation] = struct{}{}
		for _, c := range splitCarrier(info.Carrier) {
			i.carrierSet[c] = struct{}{}
		}
	}

	switch {
	case f.Type == 1005 || f.Type == 1006:
		pos, ok := ParseStationPosition(f)
		if !ok {
			logger.Debug("truncated station position message", "mount", i.cfg.Mount, "type", f.Type)
			return
		}
		i.applyPosition(pos, now)

	case f.Type == 1033:
		desc, ok := ParseDeviceDescriptor(f)
		if !ok {
			logger.Debug("truncated device descriptor message", "mount", i.cfg.Mount)
			return
		}
		i.applyDevice(desc, now)

	case IsMSM(f.Type) && i.cfg.Mode == ModeRealtime:
		epoch, ok := ParseMSM(f)
		if !ok {
			return
		}
		i.latestEpochSet = true
		if i.callbacks.OnMSM != nil {
			i.callbacks.OnMSM(MsmSatellite{Mount: i.cfg.Mount, Timestamp: now, Epoch: epoch})
		}
	}
}

func (i *Inspector) applyPosition(pos StationPosition, now time.Time) {
	lat, lon, height := geo.ECEFToGeodetic(pos.X, pos.Y, pos.Z)
	lat = roundTo(lat, 8)
	lon = roundTo(lon, 8)
	height = roundTo(height, 3)

	i.result.HasPosition = true
	i.result.Latitude = lat
	i.result.Longitude = lon
	i.result.Height = height

	record := Geography{
		Mount:     i.cfg.Mount,
		Timestamp: now,
		Latitude:  lat,
		Longitude: lon,
		Height:    height,
	}

	if place, ok := geo.ReverseGeocode(lat, lon, i.cfg.MinPopulation); ok {
		record.CountryCode = place.CountryCode
		record.CountryISO3 = geo.CountryAlpha3(place.CountryCode)
		record.City = place.City
		i.result.CountryISO3 = record.CountryISO3
		i.result.City = place.City
	}

	if i.callbacks.OnGeography != nil {
		i.callbacks.OnGeography(record)
	}
}

func (i *Inspector) applyDevice(desc DeviceDescriptor, now time.Time) {
	i.result.Antenna = desc.AntennaDescriptor
	i.result.Receiver = desc.ReceiverType
	i.result.Firmware = desc.Firmware

	if i.callbacks.OnDeviceInfo != nil {
		i.callbacks.OnDeviceInfo(DeviceInfo{
			Mount:     i.cfg.Mount,
			Timestamp: now,
			Antenna:   desc.AntennaDescriptor,
			Receiver:  desc.ReceiverType,
			Firmware:  desc.Firmware,
		})
	}
}

// flushStats emits bitrate and message statistics for the interval that
// just ended and resets the interval counters.
func (i *Inspector) flushStats(now time.Time) {
	if i.warmupDone {
		elapsed := now.Sub(i.intervalStart).Seconds()
		if elapsed > 0 && i.intervalBytes > 0 {
			i.result.BitrateBPS = int64(float64(i.intervalBytes) * 8 / elapsed)
			if i.callbacks.OnBitrate != nil {
				i.callbacks.OnBitrate(Bitrate{
					Mount:         i.cfg.Mount,
					Timestamp:     now,
					BitsPerSecond: i.result.BitrateBPS,
				})
			}
		}
		i.intervalBytes = 0
		i.intervalStart = now
	}

	if len(i.intervalTypes) > 0 {
		interval := i.cfg.StatsInterval.Seconds()
		for msgType, count := range i.intervalTypes {
			freq := int(math.Round(float64(count) / interval))
			if freq < 1 {
				freq = 1
			}
			i.result.Frequency[msgType] = freq
		}
		i.intervalTypes = make(map[int]int)
	}

	i.result.Constellations = sortedKeys(i.gnssSet)
	i.result.Carriers = sortedKeys(i.carrierSet)

	if i.callbacks.OnMessageStats != nil {
		types := make(map[int]int, len(i.result.Types))
		for k, v := range i.result.Types {
			types[k] = v
		}
		freq := make(map[int]int, len(i.result.Frequency))
		for k, v := range i.result.Frequency {
			freq[k] = v
		}
		i.callbacks.OnMessageStats(MessageStats{
			Mount:          i.cfg.Mount,
			Timestamp:      now,
			Types:          types,
			Frequency:      freq,
			Constellations: i.result.Constellations,
			Carriers:       i.result.Carriers,
		})
	}
}

// Snapshot returns a copy of the accumulated result.
func (i *Inspector) Snapshot() Result {
	r := i.result
	r.Types = make(map[int]int, len(i.result.Types))
	for k, v := range i.result.Types {
		r.Types[k] = v
	}
	r.Frequency = make(map[int]int, len(i.result.Frequency))
	for k, v := range i.result.Frequency {
		r.Frequency[k] = v
	}
	r.Constellations = sortedKeys(i.gnssSet)
	r.Carriers = sortedKeys(i.carrierSet)
	return r
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func splitCarrier(carrier string) []string {
	var out []string
	start := 0
	for idx := 0; idx <= len(carrier); idx++ {
		if idx == len(carrier) || carrier[idx] == '+' {
			if idx > start {
				out = append(out, carrier[start:idx])
			}
			start = idx + 1
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
