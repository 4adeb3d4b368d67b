package logger

import (
	"sync"
	"time"
)

// Throttler suppresses repeated log lines that share an event key.
// Within each window a key may fire at most maxEvents times; further
// attempts are dropped until the window rolls over. Noisy peers (port
// scanners, crash-looping rovers) otherwise flood the log at INFO.
type Throttler struct {
	mu        sync.Mutex
	window    time.Duration
	maxEvents int
	buckets   map[string]*throttleBucket
	now       func() time.Time
}

type throttleBucket struct {
	windowStart time.Time
	count       int
	suppressed  int
}

// NewThrottler creates a Throttler allowing maxEvents per key per window.
func NewThrottler(window time.Duration, maxEvents int) *Throttler {
	if window <= 0 {
		window = 60 * time.Second
	}
	if maxEvents <= 0 {
		maxEvents = 3
	}
	return &Throttler{
		window:    window,
		maxEvents: maxEvents,
		buckets:   make(map[string]*throttleBucket),
		now:       time.Now,
	}
}

// Allow reports whether an event with the given key may be logged now.
// When a window rolls over with suppressed events, the second return
// value carries the suppressed count so the caller can mention it once.
func (t *Throttler) Allow(key string) (ok bool, suppressed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, found := t.buckets[key]
	if !found || now.Sub(b.windowStart) >= t.window {
		var prior int
		if found {
			prior = b.suppressed
		}
		t.buckets[key] = &throttleBucket{windowStart: now, count: 1}
		return true, prior
	}

	if b.count < t.maxEvents {
		b.count++
		return true, 0
	}

	b.suppressed++
	return false, 0
}

// defaultThrottler backs the package-level throttled helpers.
var defaultThrottler = NewThrottler(60*time.Second, 3)

// InfoThrottled logs at info level unless the key has been seen too
// often in the current window.
func InfoThrottled(key, msg string, args ...any) {
	ok, suppressed := defaultThrottler.Allow(key)
	if !ok {
		return
	}
	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	Info(msg, args...)
}

// WarnThrottled logs at warn level unless the key has been seen too
// often in the current window.
func WarnThrottled(key, msg string, args ...any) {
	ok, suppressed := defaultThrottler.Allow(key)
	if !ok {
		return
	}
	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	Warn(msg, args...)
}
