package caster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/config"
	"github.com/2rtk/ntripcaster/pkg/ntrip"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// Observer receives dispatcher events for metrics. A nil Observer
// disables collection.
type Observer interface {
	ConnectionOpened(kind string)
	ConnectionClosed(kind string)
	BytesPublished(mount string, n int)
	RequestRejected(status int)
}

// Dispatcher parses one accepted connection, authenticates it, and
// routes it to the upload, download, sourcetable, or RTSP path.
type Dispatcher struct {
	cfg       *config.Config
	store     *store.Store
	registry  *Registry
	forwarder *Forwarder
	auth      *Authenticator
	users     *UserLimiter
	table     *Sourcetable
	observer  Observer
}

// NewDispatcher wires a Dispatcher to its collaborators. observer may
// be nil.
func NewDispatcher(cfg *config.Config, st *store.Store, reg *Registry, fwd *Forwarder, table *Sourcetable, observer Observer) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		store:     st,
		registry:  reg,
		forwarder: fwd,
		auth:      NewAuthenticator(st),
		users:     NewUserLimiter(cfg.Ntrip.MaxConnectionsPerUser),
		table:     table,
		observer:  observer,
	}
}

// Handle services one accepted connection to completion. It owns the
// socket and always closes it.
func (d *Dispatcher) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("connection handler panicked",
				logger.ClientIP(remoteHost(conn)),
				"panic", fmt.Sprintf("%v", r))
			d.writeHTTPError(conn, ntrip.ErrInternal, nil)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(d.cfg.TCP.SocketTimeout))
	br := bufio.NewReaderSize(conn, 4096)

	req, err := ReadRequest(br, conn.LocalAddr().String())
	if err != nil {
		d.reject(conn, ntrip.DialectV10HTTP, err, nil)
		return
	}
	conn.SetReadDeadline(time.Time{})

	logger.Debug("request",
		"line", SanitizeRequestLine(req.RawLine),
		logger.Dialect(req.Dialect.String()),
		logger.ClientIP(remoteHost(conn)),
		"agent", req.Agent(),
		"host_synthesized", req.HostSynthesized)

	switch {
	case req.Dialect == ntrip.DialectRTSP:
		d.handleRTSP(ctx, conn, br, req)

	case req.Method == "ADMIN":
		d.reject(conn, req.Dialect, ntrip.ErrMethodNotAllowed, nil)

	case req.Method == "SOURCE":
		d.handleNativeUpload(ctx, conn, br, req)

	case req.Method == "POST":
		d.handleHTTPUpload(ctx, conn, br, req)

	case req.Method == "GET", req.Method == "HEAD":
		d.handleGet(ctx, conn, req)

	case req.Method == "OPTIONS":
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nServer: %s\r\nAllow: GET, POST, OPTIONS\r\nContent-Length: 0\r\n\r\n", d.cfg.App.Name)

	default:
		d.reject(conn, req.Dialect, ntrip.ErrMethodNotAllowed, nil)
	}
}

// handleNativeUpload serves SOURCE uploads (0.8 and native 1.0).
func (d *Dispatcher) handleNativeUpload(ctx context.Context, conn net.Conn, br *bufio.Reader, req *Request) {
	if req.Mount == "" {
		d.reject(conn, req.Dialect, ntrip.ErrBadRequest, req)
		return
	}
	if req.InlinePassword == "" {
		// SOURCE /MOUNT without a password gets the dual challenge.
		d.challenge(conn)
		return
	}

	err := d.store.VerifyProducer(ctx, req.Mount, req.Dialect, req.InlinePassword, req.InlineUser, "")
	if err != nil {
		d.reject(conn, req.Dialect, ntrip.ErrUnauthorized, req)
		return
	}

	d.runUpload(ctx, conn, br, req, "ICY 200 OK\r\n\r\n")
}

// handleHTTPUpload serves POST uploads (1.0-over-HTTP and 2.0).
func (d *Dispatcher) handleHTTPUpload(ctx context.Context, conn net.Conn, br *bufio.Reader, req *Request) {
	if req.Mount == "" {
		d.reject(conn, req.Dialect, ntrip.ErrBadRequest, req)
		return
	}

	creds, err := ParseAuthorization(req.Headers["authorization"])
	if err != nil {
		d.challenge(conn)
		return
	}
	if creds.Scheme != "basic" {
		// Producers must present the password itself; a Digest proof
		// cannot be forwarded to the mount-secret check.
		d.reject(conn, req.Dialect, ntrip.ErrUnauthorized, req)
		return
	}

	// For 2.0 the password is the owner's account password; for
	// 1.0-over-HTTP it is the mount secret.
	err = d.store.VerifyProducer(ctx, req.Mount, req.Dialect, creds.Password, creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, store.ErrNotAuthorized) {
			d.reject(conn, req.Dialect, ntrip.ErrForbidden, req)
		} else {
			d.reject(conn, req.Dialect, ntrip.ErrUnauthorized, req)
		}
		return
	}

	preamble := "HTTP/1.1 200 OK\r\nConnection: keep-alive\r\n\r\n"
	if req.Dialect == ntrip.DialectV20 {
		// 2.0 producers hold a user session, so they count against the
		// same per-user cap as consumers.
		if !d.users.Acquire(creds.Username) {
			d.reject(conn, req.Dialect,
				ntrip.Errorf(403, "user %s exceeds %d concurrent connections", creds.Username, d.cfg.Ntrip.MaxConnectionsPerUser), req)
			return
		}
		defer d.users.Release(creds.Username)

		preamble = "HTTP/1.1 200 OK\r\nConnection: keep-alive\r\nNtrip-Version: NTRIP/2.0\r\n\r\n"
	}
	d.runUpload(ctx, conn, br, req, preamble)
}

// runUpload admits the mount and pumps producer bytes into the
// forwarder until the socket dies or the context ends.
func (d *Dispatcher) runUpload(ctx context.Context, conn net.Conn, br *bufio.Reader, req *Request, preamble string) {
	// A half-open leftover holding this name would block readmission;
	// clear it first.
	d.registry.ReconcileMountWithOS(req.Mount, establishedPeers(d.cfg.Ntrip.Port))

	err := d.registry.Admit(req.Mount, conn.RemoteAddr().String(), req.Agent(), req.Dialect, conn)
	if err != nil {
		d.reject(conn, req.Dialect, err, req)
		return
	}

	if _, err := conn.Write([]byte(preamble)); err != nil {
		d.registry.ScheduleRemoval(req.Mount, "preamble write failed")
		return
	}

	if d.observer != nil {
		d.observer.ConnectionOpened("producer")
		defer d.observer.ConnectionClosed("producer")
	}

	buf := make([]byte, d.cfg.Network.BufferSize)
	for {
		if ctx.Err() != nil {
			d.registry.Remove(req.Mount, "server shutting down")
			return
		}

		conn.SetReadDeadline(time.Now().Add(d.cfg.Ntrip.ConnectionTimeout))
		n, err := br.Read(buf)
		if n > 0 {
			d.forwarder.Publish(req.Mount, buf[:n])
			d.registry.MarkData(req.Mount, n)
			if d.observer != nil {
				d.observer.BytesPublished(req.Mount, n)
			}
		}
		if err != nil {
			d.registry.ScheduleRemoval(req.Mount, "producer disconnected")
			return
		}
	}
}

// handleGet serves sourcetable and download requests.
func (d *Dispatcher) handleGet(ctx context.Context, conn net.Conn, req *Request) {
	if req.Path == "/" || req.Path == "" || req.Path == "/sourcetable" {
		d.writeSourcetable(conn, req.Dialect)
		return
	}

	username, err := d.authenticateConsumer(ctx, req)
	if err != nil {
		d.challenge(conn)
		return
	}

	if _, ok := d.registry.Lookup(req.Mount); !ok {
		// Credentials may be fine while no producer is live; the mount
		// must exist in the registry, not only in the store.
		d.reject(conn, req.Dialect, ntrip.ErrMountNotFound, req)
		return
	}

	if !d.users.Acquire(username) {
		d.reject(conn, req.Dialect,
			ntrip.Errorf(403, "user %s exceeds %d concurrent connections", username, d.cfg.Ntrip.MaxConnectionsPerUser), req)
		return
	}
	defer d.users.Release(username)

	d.runDownload(conn, req, username)
}

// authenticateConsumer validates download credentials for a mount.
func (d *Dispatcher) authenticateConsumer(ctx context.Context, req *Request) (string, error) {
	creds, err := ParseAuthorization(req.Headers["authorization"])
	if err != nil {
		return "", err
	}

	if creds.Scheme == "basic" {
		if err := d.store.VerifyConsumer(ctx, req.Mount, creds.Username, creds.Password); err != nil {
			return "", ntrip.ErrUnauthorized
		}
		return creds.Username, nil
	}

	return d.auth.VerifyUser(ctx, creds, req.Method)
}

// runDownload subscribes the socket and streams until the sender exits
// or the client goes away.
func (d *Dispatcher) runDownload(conn net.Conn, req *Request, username string) {
	var preamble string
	if req.Dialect == ntrip.DialectV20 {
		preamble = "HTTP/1.1 200 OK\r\nNtrip-Version: NTRIP/2.0\r\nContent-Type: application/octet-stream\r\nConnection: keep-alive\r\n\r\n"
	} else {
		// The server forces keep-alive even when the client asked to
		// close; 1.0 rovers rely on it.
		preamble = "ICY 200 OK\r\nConnection: keep-alive\r\n\r\n"
	}

	if _, err := conn.Write([]byte(preamble)); err != nil {
		return
	}

	handle, err := d.forwarder.Subscribe(req.Mount, conn)
	if err != nil {
		return
	}

	if d.observer != nil {
		d.observer.ConnectionOpened("consumer")
		defer d.observer.ConnectionClosed("consumer")
	}

	logger.Info("consumer attached",
		logger.Mount(req.Mount),
		logger.Username(username),
		logger.ClientIP(remoteHost(conn)),
		logger.Dialect(req.Dialect.String()))

	// Keep the read side alive so a client RST surfaces promptly.
	readGone := make(chan struct{})
	go func() {
		defer close(readGone)
		discard := make([]byte, 256)
		for {
			if _, err := conn.Read(discard); err != nil {
				return
			}
		}
	}()

	select {
	case <-handle.Done:
	case <-readGone:
		d.forwarder.Unsubscribe(handle)
	}

	logger.Info("consumer detached",
		logger.Mount(req.Mount),
		logger.Username(username))
}

func (d *Dispatcher) writeSourcetable(conn net.Conn, dialect ntrip.Dialect) {
	rows := d.registry.StrRows()
	if dialect == ntrip.DialectV20 {
		conn.Write(d.table.RenderV2(rows))
	} else {
		conn.Write(d.table.RenderV1(rows))
	}
}

// challenge sends the dual Basic/Digest 401.
func (d *Dispatcher) challenge(conn net.Conn) {
	var b strings.Builder
	b.WriteString("HTTP/1.1 401 Unauthorized\r\n")
	for _, h := range d.auth.ChallengeHeaders() {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("Connection: close\r\nContent-Length: 0\r\n\r\n")
	conn.Write([]byte(b.String()))

	if d.observer != nil {
		d.observer.RequestRejected(401)
	}
}

// reject translates an error into the dialect's wire format and logs
// the sanitized request.
func (d *Dispatcher) reject(conn net.Conn, dialect ntrip.Dialect, err error, req *Request) {
	var pe *ntrip.Error
	if !errors.As(err, &pe) {
		pe = ntrip.ErrInternal
	}

	line := ""
	if req != nil {
		line = SanitizeRequestLine(req.RawLine)
	}
	logger.InfoThrottled("reject:"+remoteHost(conn), "request rejected",
		logger.Status(pe.Status),
		logger.ClientIP(remoteHost(conn)),
		logger.Dialect(dialect.String()),
		"line", line)

	if d.observer != nil {
		d.observer.RequestRejected(pe.Status)
	}

	if dialect.UsesICY() {
		fmt.Fprintf(conn, "ERROR %d %s\r\n", pe.Status, pe.Message)
		return
	}
	d.writeHTTPError(conn, pe, nil)
}

func (d *Dispatcher) writeHTTPError(conn net.Conn, pe *ntrip.Error, extraHeaders []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", pe.Status, pe.Message)
	for _, h := range extraHeaders {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("Connection: close\r\nContent-Length: 0\r\n\r\n")
	conn.Write([]byte(b.String()))
}

func remoteHost(conn net.Conn) string {
	return hostOf(conn.RemoteAddr().String())
}
