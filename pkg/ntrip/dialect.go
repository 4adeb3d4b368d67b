// Package ntrip holds the protocol-level types shared by the caster:
// dialect tags, request parsing, authorization, and response framing for
// the NTRIP 0.8/1.0/2.0 families and the RTSP facade.
package ntrip

// Dialect identifies which protocol family a connection speaks. It is
// fixed once the request line and headers have been classified and
// drives authentication rules and response framing.
type Dialect int

const (
	// DialectV08 is the pre-1.0 "SOURCE <url>" upload form still used
	// by some embedded base stations.
	DialectV08 Dialect = iota

	// DialectV10Native is NTRIP 1.0 with ICY-style responses.
	DialectV10Native

	// DialectV10HTTP is NTRIP 1.0 carried over plain HTTP/1.x framing.
	DialectV10HTTP

	// DialectV20 is NTRIP 2.0 (HTTP/1.1 plus the Ntrip-Version header).
	DialectV20

	// DialectRTSP is the RTSP handshake facade; after PLAY or RECORD
	// the data path behaves like a 1.0 stream.
	DialectRTSP
)

func (d Dialect) String() string {
	switch d {
	case DialectV08:
		return "0.8"
	case DialectV10Native:
		return "1.0"
	case DialectV10HTTP:
		return "1.0-http"
	case DialectV20:
		return "2.0"
	case DialectRTSP:
		return "rtsp"
	default:
		return "unknown"
	}
}

// UsesICY reports whether success preambles use the ICY form instead of
// HTTP status lines.
func (d Dialect) UsesICY() bool {
	return d == DialectV08 || d == DialectV10Native || d == DialectRTSP
}
