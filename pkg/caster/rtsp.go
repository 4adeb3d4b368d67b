package caster

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/ntrip"
)

// rtspSession tracks the per-connection RTSP state machine. NTRIP's
// RTSP mapping never leaves the control channel: SETUP negotiates a
// session, then PLAY or RECORD stream raw RTCM on the same TCP socket.
type rtspSession struct {
	id    string
	mount string
}

// handleRTSP runs the RTSP request loop on one connection. The first
// request is already parsed; subsequent requests share the session.
func (d *Dispatcher) handleRTSP(ctx context.Context, conn net.Conn, br *bufio.Reader, first *Request) {
	session := &rtspSession{}

	req := first
	for {
		done := d.rtspStep(ctx, conn, br, req, session)
		if done {
			return
		}

		next, err := ReadRequest(br, conn.LocalAddr().String())
		if err != nil {
			return
		}
		if next.Dialect != ntrip.DialectRTSP {
			d.rtspReply(conn, req.CSeq(), session.id, 400, "Bad Request", nil, nil)
			return
		}
		req = next
	}
}

// rtspStep services one RTSP request. Returns true when the connection
// is finished (TEARDOWN, streaming completed, or a fatal error).
func (d *Dispatcher) rtspStep(ctx context.Context, conn net.Conn, br *bufio.Reader, req *Request, session *rtspSession) bool {
	switch req.Method {
	case "OPTIONS", "GET_PARAMETER":
		d.rtspReply(conn, req.CSeq(), session.id, 200, "OK",
			[]string{"Public: DESCRIBE, SETUP, PLAY, RECORD, TEARDOWN"}, nil)
		return false

	case "DESCRIBE":
		if _, ok := d.registry.Lookup(req.Mount); !ok {
			d.rtspReply(conn, req.CSeq(), session.id, 404, "Not Found", nil, nil)
			return false
		}
		sdp := d.describeSDP(req.Mount, conn)
		d.rtspReply(conn, req.CSeq(), session.id, 200, "OK",
			[]string{"Content-Type: application/sdp"}, sdp)
		return false

	case "SETUP":
		session.id = strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		session.mount = req.Mount
		headers := []string{}
		if transport := req.Headers["transport"]; transport != "" {
			headers = append(headers, "Transport: "+transport)
		}
		d.rtspReply(conn, req.CSeq(), session.id, 200, "OK", headers, nil)
		return false

	case "PLAY":
		mount := session.mount
		if mount == "" {
			mount = req.Mount
		}
		username, err := d.authenticateConsumer(ctx, &Request{
			Mount:   mount,
			Method:  req.Method,
			Headers: req.Headers,
		})
		if err != nil {
			d.rtspChallenge(conn, req.CSeq(), session.id)
			return false
		}
		if _, ok := d.registry.Lookup(mount); !ok {
			d.rtspReply(conn, req.CSeq(), session.id, 404, "Not Found", nil, nil)
			return false
		}
		if !d.users.Acquire(username) {
			d.rtspReply(conn, req.CSeq(), session.id, 403, "Too Many Connections", nil, nil)
			return false
		}
		defer d.users.Release(username)

		d.rtspReply(conn, req.CSeq(), session.id, 200, "OK", nil, nil)
		d.streamRTSPDownload(conn, mount, username)
		return true

	case "RECORD":
		mount := session.mount
		if mount == "" {
			mount = req.Mount
		}
		creds, err := ParseAuthorization(req.Headers["authorization"])
		if err != nil || creds.Scheme != "basic" {
			d.rtspChallenge(conn, req.CSeq(), session.id)
			return false
		}
		if err := d.store.VerifyProducer(ctx, mount, ntrip.DialectRTSP, creds.Password, creds.Username, ""); err != nil {
			d.rtspChallenge(conn, req.CSeq(), session.id)
			return false
		}

		upload := &Request{
			Dialect: ntrip.DialectRTSP,
			Method:  req.Method,
			Mount:   mount,
			Headers: req.Headers,
			RawLine: req.RawLine,
		}
		d.runUpload(ctx, conn, br, upload, "ICY 200 OK\r\n\r\n")
		return true

	case "TEARDOWN":
		d.rtspReply(conn, req.CSeq(), session.id, 200, "OK", nil, nil)
		if session.mount != "" {
			logger.Debug("rtsp session torn down",
				logger.Mount(session.mount), "session", session.id)
		}
		return true

	default:
		d.rtspReply(conn, req.CSeq(), session.id, 405, "Method Not Allowed", nil, nil)
		return false
	}
}

// streamRTSPDownload mirrors runDownload without the ICY preamble; the
// RTSP reply already confirmed the transition.
func (d *Dispatcher) streamRTSPDownload(conn net.Conn, mount, username string) {
	handle, err := d.forwarder.Subscribe(mount, conn)
	if err != nil {
		return
	}

	if d.observer != nil {
		d.observer.ConnectionOpened("consumer")
		defer d.observer.ConnectionClosed("consumer")
	}

	logger.Info("consumer attached",
		logger.Mount(mount),
		logger.Username(username),
		logger.ClientIP(remoteHost(conn)),
		logger.Dialect(ntrip.DialectRTSP.String()))

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
}

// describeSDP builds the synthetic session description for a mount.
func (d *Dispatcher) describeSDP(mount string, conn net.Conn) []byte {
	host := hostOf(conn.LocalAddr().String())
	var b strings.Builder
	b.WriteString("v=0\r\n")
	fmt.Fprintf(&b, "o=- 0 0 IN IP4 %s\r\n", host)
	fmt.Fprintf(&b, "s=%s\r\n", mount)
	b.WriteString("m=application 0 RTP/AVP 96\r\n")
	b.WriteString("a=rtpmap:96 rtcm/1000\r\n")
	return []byte(b.String())
}

func (d *Dispatcher) rtspChallenge(conn net.Conn, cseq, session string) {
	d.rtspReply(conn, cseq, session, 401, "Unauthorized", d.auth.ChallengeHeaders(), nil)
}

func (d *Dispatcher) rtspReply(conn net.Conn, cseq, session string, status int, reason string, headers []string, body []byte) {
	var b strings.Builder
	fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", status, reason)
	if cseq != "" {
		fmt.Fprintf(&b, "CSeq: %s\r\n", cseq)
	}
	if session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", session)
	}
	for _, h := range headers {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(body))
	b.Write(body)
	conn.Write([]byte(b.String()))
}
