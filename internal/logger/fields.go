package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so aggregated logs stay queryable.
const (
	KeyMount      = "mount"       // mount point name
	KeyDialect    = "dialect"     // NTRIP dialect: 0.8, 1.0, 1.0-http, 2.0, rtsp
	KeyClientIP   = "client_ip"   // client IP address
	KeyClientPort = "client_port" // client source port
	KeyUsername   = "username"    // authenticated user
	KeyAgent      = "agent"       // client User-Agent / Source-Agent
	KeyStatus     = "status"      // response status code
	KeyBytes      = "bytes"       // byte count
	KeyBitrate    = "bitrate_bps" // measured bitrate in bits per second
	KeySubscriber = "subscriber"  // subscriber id
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyReason     = "reason"      // human-readable reason for an action
)

// Mount returns a slog.Attr for a mount point name
func Mount(name string) slog.Attr {
	return slog.String(KeyMount, name)
}

// Dialect returns a slog.Attr for the NTRIP dialect
func Dialect(d string) slog.Attr {
	return slog.String(KeyDialect, d)
}

// ClientIP returns a slog.Attr for a client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Username returns a slog.Attr for an authenticated user
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Status returns a slog.Attr for a response status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Bytes returns a slog.Attr for a byte count
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// Subscriber returns a slog.Attr for a subscriber id
func Subscriber(id string) slog.Attr {
	return slog.String(KeySubscriber, id)
}

// Reason returns a slog.Attr for a human-readable action reason
func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
