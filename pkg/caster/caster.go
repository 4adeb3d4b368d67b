package caster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/config"
	"github.com/2rtk/ntripcaster/pkg/rtcm"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// Caster composes the registry, forwarder, dispatcher, and acceptor
// into one service. It also owns inspection scheduling: every admitted
// mount gets a fixed-window inspection that corrects its sourcetable
// row, and the admin surface can attach live inspections on demand.
type Caster struct {
	cfg   *config.Config
	store *store.Store

	Registry  *Registry
	Forwarder *Forwarder
	Server    *Server

	mu       sync.Mutex
	realtime map[string]context.CancelFunc
}

// New wires a Caster from configuration and an opened credential store.
// observer may be nil.
func New(cfg *config.Config, st *store.Store, observer Observer) *Caster {
	fwd := NewForwarder(cfg.Forwarding)
	reg := NewRegistry(cfg.Caster, cfg.App, cfg.Forwarding.RemovalGrace, fwd)
	table := NewSourcetable(cfg.Caster, cfg.App, cfg.Network.Host, cfg.Ntrip.Port)
	disp := NewDispatcher(cfg, st, reg, fwd, table, observer)
	srv := NewServer(cfg, disp, reg, observer)

	c := &Caster{
		cfg:       cfg,
		store:     st,
		Registry:  reg,
		Forwarder: fwd,
		Server:    srv,
		realtime:  make(map[string]context.CancelFunc),
	}
	reg.OnAdmit(c.scheduleSTRFix)
	return c
}

// Serve runs the caster until the context ends.
func (c *Caster) Serve(ctx context.Context) error {
	return c.Server.Serve(ctx)
}

// scheduleSTRFix taps the new mount's stream and rewrites its
// sourcetable row from what the inspection observed. Runs detached; the
// inspector self-terminates at its window, and a dropped mount closes
// the pipe, which also ends the run.
func (c *Caster) scheduleSTRFix(name string) {
	pr, handle, err := c.Forwarder.SubscribePipe(name)
	if err != nil {
		return
	}

	go func() {
		defer c.Forwarder.Unsubscribe(handle)
		defer pr.Close()
		defer func() {
			if r := recover(); r != nil {
				logger.Debug("inspection panicked", logger.Mount(name),
					"panic", fmt.Sprintf("%v", r))
			}
		}()

		insp := rtcm.NewInspector(rtcm.Config{
			Mount:         name,
			Mode:          rtcm.ModeSTRFix,
			ParseDuration: c.cfg.RTCM.ParseDuration,
			WarmUp:        c.cfg.RTCM.ParseInterval,
		}, rtcm.Callbacks{})

		result := insp.Run(context.Background(), pr)
		c.Registry.ApplyInspection(name, result)
	}()
}

// StartRealtime attaches a live inspection to a mount; records stream
// to the callbacks until StopRealtime or mount drop. One live
// inspection per mount.
func (c *Caster) StartRealtime(name string, callbacks rtcm.Callbacks) error {
	c.mu.Lock()
	if _, running := c.realtime[name]; running {
		c.mu.Unlock()
		return errors.New("realtime inspection already running")
	}
	c.mu.Unlock()

	pr, handle, err := c.Forwarder.SubscribePipe(name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.realtime[name] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.Forwarder.Unsubscribe(handle)
			pr.Close()

			c.mu.Lock()
			delete(c.realtime, name)
			c.mu.Unlock()

			logger.Debug("realtime inspection ended", logger.Mount(name))
		}()
		defer func() {
			if r := recover(); r != nil {
				logger.Debug("realtime inspection panicked", logger.Mount(name),
					"panic", fmt.Sprintf("%v", r))
			}
		}()

		insp := rtcm.NewInspector(rtcm.Config{
			Mount:  name,
			Mode:   rtcm.ModeRealtime,
			WarmUp: c.cfg.RTCM.ParseInterval,
		}, callbacks)

		insp.Run(ctx, pr)
	}()

	return nil
}

// StopRealtime ends a live inspection if one is running.
func (c *Caster) StopRealtime(name string) {
	c.mu.Lock()
	cancel, ok := c.realtime[name]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// RealtimeActive reports whether a live inspection is attached.
func (c *Caster) RealtimeActive(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.realtime[name]
	return ok
}
