package caster

import (
	"bufio"
	"net/url"
	"strings"

	"github.com/2rtk/ntripcaster/pkg/ntrip"
)

// maxHeaderBytes bounds the request line plus all headers. Anything
// longer is hostile or broken.
const maxHeaderBytes = 8 * 1024

// Request is one parsed client request, independent of dialect.
type Request struct {
	Dialect ntrip.Dialect
	Method  string // SOURCE, ADMIN, GET, POST, OPTIONS, or an RTSP verb
	Path    string // normalized, leading slash
	Mount   string // path without the leading slash; empty for the root
	Version string // trailing protocol token, e.g. HTTP/1.1 or RTSP/1.0

	// Credentials carried in the request line itself. Only the SOURCE
	// forms populate these; HTTP dialects use the Authorization header.
	InlineUser     string
	InlinePassword string

	Headers map[string]string // lowercased keys

	// RawLine preserves the request line for sanitized logging.
	RawLine string

	// HostSynthesized marks a request whose Host header was missing and
	// filled in from the local socket address.
	HostSynthesized bool
}

// Agent returns the client's self-identification header.
func (r *Request) Agent() string {
	if a := r.Headers["user-agent"]; a != "" {
		return a
	}
	return r.Headers["source-agent"]
}

// CSeq returns the RTSP sequence header, empty for other dialects.
func (r *Request) CSeq() string {
	return r.Headers["cseq"]
}

var rtspVerbs = map[string]bool{
	"DESCRIBE": true, "SETUP": true, "PLAY": true,
	"PAUSE": true, "TEARDOWN": true, "RECORD": true,
	"GET_PARAMETER": true,
}

var httpVerbs = map[string]bool{
	"GET": true, "POST": true, "OPTIONS": true, "HEAD": true,
}

// ReadRequest parses one request from the wire. localAddr is the
// accepted socket's local address, used to synthesize a Host header for
// embedded producers that omit one.
//
// Detection is a fixed table on the first token:
//   - SOURCE with a URL argument is the 0.8 upload form
//   - SOURCE with password and path (or path alone) is native 1.0
//   - ADMIN is native 1.0, reserved
//   - RTSP verbs with an RTSP/1.0 version are the RTSP shim
//   - HTTP verbs are 2.0 when Ntrip-Version: NTRIP/2.0 is present,
//     otherwise 1.0-over-HTTP
func ReadRequest(br *bufio.Reader, localAddr string) (*Request, error) {
	line, err := readLine(br, maxHeaderBytes)
	if err != nil {
		return nil, ntrip.ErrBadRequest
	}

	req := &Request{
		RawLine: line,
		Headers: make(map[string]string),
	}

	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, ntrip.ErrBadRequest
	}
	req.Method = strings.ToUpper(tokens[0])

	switch {
	case req.Method == "SOURCE":
		if err := parseSourceLine(req, tokens); err != nil {
			return nil, err
		}
		if err := readHeaders(req, br, len(line)); err != nil {
			return nil, err
		}

	case req.Method == "ADMIN":
		req.Dialect = ntrip.DialectV10Native
		if len(tokens) >= 3 {
			req.Path = normalizePath(tokens[2])
		}
		if err := readHeaders(req, br, len(line)); err != nil {
			return nil, err
		}

	case rtspVerbs[req.Method] && len(tokens) >= 3 && strings.HasPrefix(tokens[2], "RTSP/"):
		req.Dialect = ntrip.DialectRTSP
		req.Version = tokens[2]
		req.Path = rtspPath(tokens[1])
		if err := readHeaders(req, br, len(line)); err != nil {
			return nil, err
		}

	case httpVerbs[req.Method] && len(tokens) >= 3 && strings.HasPrefix(tokens[2], "HTTP/"):
		req.Version = tokens[2]
		req.Path = normalizePath(tokens[1])
		if err := readHeaders(req, br, len(line)); err != nil {
			return nil, err
		}
		if strings.EqualFold(req.Headers["ntrip-version"], "NTRIP/2.0") {
			req.Dialect = ntrip.DialectV20
		} else {
			req.Dialect = ntrip.DialectV10HTTP
		}
		if req.Headers["host"] == "" {
			req.Headers["host"] = localAddr
			req.HostSynthesized = true
		}

	default:
		return nil, ntrip.ErrBadRequest
	}

	req.Mount = strings.TrimPrefix(req.Path, "/")
	if idx := strings.IndexByte(req.Mount, '?'); idx >= 0 {
		req.Mount = req.Mount[:idx]
	}
	return req, nil
}

// parseSourceLine handles the three SOURCE shapes:
//
//	SOURCE http://user:pw@host/MOUNT  (0.8)
//	SOURCE pw /MOUNT                  (1.0)
//	SOURCE /MOUNT                     (1.0, expects a 401 challenge)
func parseSourceLine(req *Request, tokens []string) error {
	if len(tokens) < 2 {
		return ntrip.ErrBadRequest
	}

	second := tokens[1]
	if strings.HasPrefix(second, "http://") ||
		strings.HasPrefix(second, "https://") ||
		strings.HasPrefix(second, "rtsp://") {
		u, err := url.Parse(second)
		if err != nil {
			return ntrip.ErrBadRequest
		}
		req.Dialect = ntrip.DialectV08
		req.Path = normalizePath(u.Path)
		if u.User != nil {
			req.InlineUser = u.User.Username()
			req.InlinePassword, _ = u.User.Password()
		}
		// Some 0.8 senders append the password as a bare extra token.
		if req.InlinePassword == "" && len(tokens) >= 3 {
			req.InlinePassword = tokens[2]
		}
		return nil
	}

	req.Dialect = ntrip.DialectV10Native
	if strings.HasPrefix(second, "/") {
		req.Path = normalizePath(second)
		return nil
	}
	if len(tokens) < 3 {
		return ntrip.ErrBadRequest
	}
	req.InlinePassword = second
	req.Path = normalizePath(tokens[2])
	return nil
}

// readHeaders consumes header lines up to the blank separator,
// enforcing the total byte budget.
func readHeaders(req *Request, br *bufio.Reader, consumed int) error {
	remaining := maxHeaderBytes - consumed
	for {
		line, err := readLine(br, remaining)
		if err != nil {
			return ntrip.ErrBadRequest
		}
		remaining -= len(line) + 2
		if line == "" {
			return nil
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
}

// readLine reads one CRLF (or bare LF) terminated line within a byte
// budget.
func readLine(br *bufio.Reader, budget int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if sb.Len() >= budget {
			return "", ntrip.ErrBadRequest
		}
		if b == '\n' {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
		sb.WriteByte(b)
	}
}

// rtspPath extracts the mount path from an rtsp:// URI or bare path.
func rtspPath(target string) string {
	if strings.HasPrefix(target, "rtsp://") {
		if u, err := url.Parse(target); err == nil {
			return normalizePath(u.Path)
		}
	}
	return normalizePath(target)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
