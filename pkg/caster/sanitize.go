package caster

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// SanitizeRequestLine rewrites any credential material in a request
// line so it is safe to log. SOURCE lines carry a plaintext password as
// a token or inside URL userinfo; both forms are rewritten.
func SanitizeRequestLine(line string) string {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return line
	}

	switch strings.ToUpper(tokens[0]) {
	case "SOURCE", "ADMIN":
	default:
		return sanitizeURLTokens(tokens)
	}

	out := make([]string, len(tokens))
	copy(out, tokens)
	for i := 1; i < len(out); i++ {
		if strings.Contains(out[i], "://") {
			out[i] = sanitizeURL(out[i])
			continue
		}
		if !strings.HasPrefix(out[i], "/") {
			// Bare non-path token after SOURCE/ADMIN is the password.
			out[i] = redacted
		}
	}
	return strings.Join(out, " ")
}

// SanitizeHeader rewrites credential-bearing header values. The header
// name is matched case-insensitively.
func SanitizeHeader(key, value string) string {
	switch strings.ToLower(key) {
	case "authorization", "proxy-authorization":
		return redacted
	default:
		return value
	}
}

// SanitizeHeaders returns a copy of a header map with credential values
// rewritten.
func SanitizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = SanitizeHeader(k, v)
	}
	return out
}

func sanitizeURLTokens(tokens []string) string {
	out := make([]string, len(tokens))
	copy(out, tokens)
	for i, tok := range out {
		if strings.Contains(tok, "://") {
			out[i] = sanitizeURL(tok)
		}
	}
	return strings.Join(out, " ")
}

// sanitizeURL strips the password from URL userinfo, keeping the
// username for traceability.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), redacted)
		// url.String re-escapes the placeholder brackets; undo that so
		// logs stay readable.
		return strings.Replace(u.String(), url.QueryEscape(redacted), redacted, 1)
	}
	return raw
}
