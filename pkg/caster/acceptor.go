package caster

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/config"
)

// Server owns the NTRIP listener: it accepts connections, applies the
// global connection cap and TCP keepalive knobs, and hands each socket
// to the Dispatcher on its own goroutine.
type Server struct {
	cfg        *config.Config
	dispatcher *Dispatcher
	registry   *Registry

	// listener is protected by listenerMu; listenerReady closes once it
	// is bound so tests can learn the ephemeral port.
	listenerMu    sync.Mutex
	listener      net.Listener
	listenerReady chan struct{}

	// shutdown closes when graceful shutdown begins
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// shutdownCtx cancels in-flight connection handlers
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	// activeConns tracks live connection goroutines for draining
	activeConns sync.WaitGroup

	// activeConnections maps remote address to net.Conn for forced close
	activeConnections sync.Map

	connSemaphore chan struct{}
	connCount     atomic.Int64
	rejectedConns atomic.Uint64

	observer Observer
}

// NewServer creates the acceptor. observer may be nil.
func NewServer(cfg *config.Config, dispatcher *Dispatcher, registry *Registry, observer Observer) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:            cfg,
		dispatcher:     dispatcher,
		registry:       registry,
		listenerReady:  make(chan struct{}),
		shutdown:       make(chan struct{}),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
		connSemaphore:  make(chan struct{}, cfg.Network.MaxConnections),
		observer:       observer,
	}
}

// Serve binds the listener and accepts until the context is cancelled
// or Stop is called. It returns after graceful shutdown completes.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Network.Host, s.cfg.Ntrip.Port)
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.listenerReady)

	logger.Info("ntrip caster listening",
		"addr", addr,
		"max_connections", s.cfg.Network.MaxConnections,
		"max_per_user", s.cfg.Ntrip.MaxConnectionsPerUser)

	go func() {
		<-ctx.Done()
		s.initiateShutdown()
	}()

	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("accept error", logger.Err(err))
				continue
			}
		}

		// Global cap: reject instead of queueing, so a full caster
		// fails fast rather than stalling producers.
		select {
		case s.connSemaphore <- struct{}{}:
		default:
			s.rejectedConns.Add(1)
			tcpConn.Close()
			logger.WarnThrottled("conn-cap", "connection rejected at global cap",
				logger.ClientIP(hostOf(tcpConn.RemoteAddr().String())),
				"rejected_total", s.rejectedConns.Load())
			continue
		}

		s.configureConn(tcpConn)

		s.activeConns.Add(1)
		s.connCount.Add(1)
		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		logger.Debug("connection accepted",
			"addr", connAddr, "active", s.connCount.Load())

		go func(addr string, conn net.Conn) {
			defer func() {
				s.activeConnections.Delete(addr)
				s.activeConns.Done()
				s.connCount.Add(-1)
				<-s.connSemaphore
			}()
			s.dispatcher.Handle(s.shutdownCtx, conn)
		}(connAddr, tcpConn)
	}
}

// Addr returns the bound listener address once Serve has started.
func (s *Server) Addr() net.Addr {
	<-s.listenerReady
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.listener.Addr()
}

// Stop initiates graceful shutdown.
func (s *Server) Stop() {
	s.initiateShutdown()
}

// ConnCount reports the number of live connections.
func (s *Server) ConnCount() int64 {
	return s.connCount.Load()
}

// RejectedConnections reports connections dropped at the global cap.
func (s *Server) RejectedConnections() uint64 {
	return s.rejectedConns.Load()
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Info("caster shutdown initiated")
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.listenerMu.Unlock()
	})
}

// gracefulShutdown closes producers first so subscriber tear-down
// cascades through the forwarder, then drains connection goroutines
// within the configured deadline.
func (s *Server) gracefulShutdown() error {
	s.shutdownCancel()

	for _, info := range s.registry.List() {
		s.registry.Remove(info.Name, "server shutting down")
	}

	s.activeConnections.Range(func(_, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.Close()
		}
		return true
	})

	drained := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logger.Info("caster shutdown complete")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		logger.Warn("caster shutdown deadline exceeded, abandoning connections",
			"remaining", s.connCount.Load())
		return nil
	}
}

// configureConn applies the TCP keepalive knobs from configuration.
func (s *Server) configureConn(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	tcp.SetNoDelay(true)
	tcp.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   s.cfg.TCP.KeepaliveEnabled,
		Idle:     s.cfg.TCP.KeepaliveIdle,
		Interval: s.cfg.TCP.KeepaliveInterval,
		Count:    s.cfg.TCP.KeepaliveCount,
	})
}
