package caster

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/config"
)

// ErrMountNotLive is returned when subscribing to a mount without an
// active producer stream.
var ErrMountNotLive = errors.New("mount is not live")

// SubscriberHandle identifies one subscription. Done is closed when the
// sender exits, whether by unsubscribe, eviction, or write error.
type SubscriberHandle struct {
	ID    string
	Mount string
	Done  chan struct{}
}

// ForwarderStats is a point-in-time snapshot of one mount's stream.
type ForwarderStats struct {
	Mount         string `json:"mount"`
	Subscribers   int    `json:"subscribers"`
	Sequence      uint64 `json:"sequence"`
	SlowEvictions uint64 `json:"slow_evictions"`
}

// chunkWriter abstracts the subscriber sink: a consumer socket with a
// write deadline, or an inspector pipe.
type chunkWriter interface {
	io.WriteCloser
	SetWriteDeadline(t time.Time) error
}

// pipeSink adapts an io.PipeWriter; pipes have no deadlines, and the
// inspector's reader goroutine keeps them drained.
type pipeSink struct {
	*io.PipeWriter
}

func (pipeSink) SetWriteDeadline(time.Time) error { return nil }

type subscriber struct {
	handle *SubscriberHandle
	sink   chunkWriter
	outbox chan []byte

	// slow-consumer accounting, guarded by the stream mutex
	slowCount  int
	slowWindow time.Time
}

// stream is the per-mount fan-out state.
type stream struct {
	mu   sync.Mutex
	ring [][]byte
	head int
	size int
	seq  uint64
	subs map[string]*subscriber

	slowEvictions uint64
}

// Forwarder fans producer bytes out to subscribers. One ring buffer and
// one subscriber set per mount; the publisher never blocks on a slow
// consumer.
type Forwarder struct {
	cfg config.ForwardingConfig

	mu      sync.Mutex
	streams map[string]*stream
}

// NewForwarder creates a Forwarder with the given tuning.
func NewForwarder(cfg config.ForwardingConfig) *Forwarder {
	return &Forwarder{
		cfg:     cfg,
		streams: make(map[string]*stream),
	}
}

// AddMount creates the stream state for a newly admitted mount.
// Idempotent; re-admission after self-heal reuses the existing stream.
func (f *Forwarder) AddMount(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[name]; !ok {
		f.streams[name] = &stream{
			ring: make([][]byte, f.cfg.RingBufferSize),
			subs: make(map[string]*subscriber),
		}
	}
}

// Publish appends a chunk to the mount's ring and enqueues it to every
// subscriber. A full outbox drops that subscriber's oldest chunk; a
// subscriber exceeding the slow-consumer budget is evicted. Publish
// cost is bounded by the subscriber count, never by their sockets.
func (f *Forwarder) Publish(name string, chunk []byte) {
	st := f.stream(name)
	if st == nil {
		return
	}

	// Chunks are referenced by the ring and every outbox; copy once so
	// the caller can reuse its read buffer.
	owned := make([]byte, len(chunk))
	copy(owned, chunk)

	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.ring[st.head] = owned
	st.head = (st.head + 1) % len(st.ring)
	if st.size < len(st.ring) {
		st.size++
	}
	st.seq++

	for id, sub := range st.subs {
		select {
		case sub.outbox <- owned:
			continue
		default:
		}

		// Outbox full: drop the oldest chunk to make room.
		select {
		case <-sub.outbox:
		default:
		}
		select {
		case sub.outbox <- owned:
		default:
		}

		if now.Sub(sub.slowWindow) > f.cfg.SlowConsumerWindow {
			sub.slowWindow = now
			sub.slowCount = 0
		}
		sub.slowCount++

		if sub.slowCount > f.cfg.SlowConsumerEvents {
			st.slowEvictions++
			delete(st.subs, id)
			close(sub.outbox)
			// Force-close the sink so a sender wedged mid-write unwinds
			// immediately instead of waiting out its deadline.
			sub.sink.Close()
			logger.Warn("evicting slow consumer",
				logger.Mount(name),
				logger.Subscriber(id),
				"dropped_chunks", sub.slowCount)
		}
	}
}

// Subscribe attaches a consumer socket to a mount. Delivery starts at
// the current tail; no historical replay. The returned handle's Done
// channel closes when the sender exits.
func (f *Forwarder) Subscribe(name string, conn net.Conn) (*SubscriberHandle, error) {
	return f.attach(name, conn)
}

// SubscribePipe attaches an internal pipe to a mount and returns its
// read end. The inspector consumes the read end as if it were a rover.
func (f *Forwarder) SubscribePipe(name string) (io.ReadCloser, *SubscriberHandle, error) {
	pr, pw := io.Pipe()
	handle, err := f.attach(name, pipeSink{pw})
	if err != nil {
		pw.Close()
		pr.Close()
		return nil, nil, err
	}
	return pr, handle, nil
}

func (f *Forwarder) attach(name string, sink chunkWriter) (*SubscriberHandle, error) {
	st := f.stream(name)
	if st == nil {
		return nil, ErrMountNotLive
	}

	sub := &subscriber{
		handle: &SubscriberHandle{
			ID:    uuid.NewString(),
			Mount: name,
			Done:  make(chan struct{}),
		},
		sink:       sink,
		outbox:     make(chan []byte, f.cfg.OutboxSize),
		slowWindow: time.Now(),
	}

	st.mu.Lock()
	st.subs[sub.handle.ID] = sub
	st.mu.Unlock()

	go f.sender(st, sub)

	return sub.handle, nil
}

// sender drains one subscriber's outbox into its sink. A write error or
// timeout ends the subscription; the producer is unaffected.
func (f *Forwarder) sender(st *stream, sub *subscriber) {
	defer close(sub.handle.Done)
	defer sub.sink.Close()

	for chunk := range sub.outbox {
		sub.sink.SetWriteDeadline(time.Now().Add(f.cfg.DataSendTimeout))
		if _, err := sub.sink.Write(chunk); err != nil {
			f.detach(st, sub)
			logger.Debug("subscriber write failed",
				logger.Mount(sub.handle.Mount),
				logger.Subscriber(sub.handle.ID),
				logger.Err(err))
			return
		}
	}
}

// detach removes a subscriber and closes its outbox unless eviction
// already did.
func (f *Forwarder) detach(st *stream, sub *subscriber) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.subs[sub.handle.ID]; ok {
		delete(st.subs, sub.handle.ID)
		close(sub.outbox)
	}
}

// Unsubscribe removes a subscription and closes its sink.
func (f *Forwarder) Unsubscribe(h *SubscriberHandle) {
	st := f.stream(h.Mount)
	if st == nil {
		return
	}

	st.mu.Lock()
	sub, ok := st.subs[h.ID]
	if ok {
		delete(st.subs, h.ID)
		close(sub.outbox)
	}
	st.mu.Unlock()
}

// DropMount tears down a mount's stream: every subscriber's outbox is
// closed, senders drain what they already hold and exit, and the ring
// is discarded.
func (f *Forwarder) DropMount(name string) {
	f.mu.Lock()
	st, ok := f.streams[name]
	if ok {
		delete(f.streams, name)
	}
	f.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	for id, sub := range st.subs {
		delete(st.subs, id)
		close(sub.outbox)
		sub.sink.Close()
	}
	st.ring = nil
	st.size = 0
	st.mu.Unlock()
}

// Stats reports one mount's stream counters.
func (f *Forwarder) Stats(name string) (ForwarderStats, bool) {
	st := f.stream(name)
	if st == nil {
		return ForwarderStats{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return ForwarderStats{
		Mount:         name,
		Subscribers:   len(st.subs),
		Sequence:      st.seq,
		SlowEvictions: st.slowEvictions,
	}, true
}

func (f *Forwarder) stream(name string) *stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[name]
}
