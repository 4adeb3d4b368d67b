package caster

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/2rtk/ntripcaster/pkg/ntrip"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// digestRealm is the authentication realm every dialect advertises.
const digestRealm = "NTRIP"

// nonceTTL bounds how long an issued Digest nonce stays acceptable.
const nonceTTL = 5 * time.Minute

// Credentials is a parsed Authorization header.
type Credentials struct {
	Scheme   string // "basic" or "digest"
	Username string
	Password string // basic only

	// digest parameters
	Nonce    string
	URI      string
	Response string
}

// Authenticator verifies client credentials against the store and
// issues Digest challenges.
type Authenticator struct {
	store *store.Store

	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewAuthenticator creates an Authenticator backed by the credential
// store.
func NewAuthenticator(st *store.Store) *Authenticator {
	return &Authenticator{
		store:  st,
		nonces: make(map[string]time.Time),
	}
}

// Nonce issues a fresh 16-hex-digit Digest nonce and remembers it.
func (a *Authenticator) Nonce() string {
	raw := make([]byte, 8)
	rand.Read(raw)
	nonce := hex.EncodeToString(raw)

	a.mu.Lock()
	now := time.Now()
	for n, issued := range a.nonces {
		if now.Sub(issued) > nonceTTL {
			delete(a.nonces, n)
		}
	}
	a.nonces[nonce] = now
	a.mu.Unlock()

	return nonce
}

func (a *Authenticator) nonceKnown(nonce string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	issued, ok := a.nonces[nonce]
	return ok && time.Since(issued) <= nonceTTL
}

// ChallengeHeaders returns the WWW-Authenticate lines for a 401. Both
// schemes are offered; fielded rovers split roughly evenly between
// them.
func (a *Authenticator) ChallengeHeaders() []string {
	return []string{
		fmt.Sprintf("WWW-Authenticate: Basic realm=%q", digestRealm),
		fmt.Sprintf("WWW-Authenticate: Digest realm=%q, nonce=%q, algorithm=MD5, qop=\"auth\"", digestRealm, a.Nonce()),
	}
}

// ParseAuthorization parses a Basic or Digest Authorization header
// value.
func ParseAuthorization(header string) (*Credentials, error) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		return nil, ntrip.ErrUnauthorized
	}

	switch strings.ToLower(scheme) {
	case "basic":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
		if err != nil {
			return nil, ntrip.ErrUnauthorized
		}
		user, pass, found := strings.Cut(string(decoded), ":")
		if !found {
			return nil, ntrip.ErrUnauthorized
		}
		return &Credentials{Scheme: "basic", Username: user, Password: pass}, nil

	case "digest":
		params := parseDigestParams(rest)
		c := &Credentials{
			Scheme:   "digest",
			Username: params["username"],
			Nonce:    params["nonce"],
			URI:      params["uri"],
			Response: params["response"],
		}
		if c.Username == "" || c.Nonce == "" || c.Response == "" {
			return nil, ntrip.ErrUnauthorized
		}
		return c, nil

	default:
		return nil, ntrip.ErrUnauthorized
	}
}

// parseDigestParams splits `key=value` pairs, values quoted or bare.
func parseDigestParams(s string) map[string]string {
	params := make(map[string]string)
	for _, part := range splitDigestList(s) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)
		params[key] = value
	}
	return params
}

// splitDigestList splits on commas outside quoted strings.
func splitDigestList(s string) []string {
	var parts []string
	var sb strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			sb.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	if sb.Len() > 0 {
		parts = append(parts, sb.String())
	}
	return parts
}

// VerifyUser checks the credentials against the user table. Basic
// credentials verify against the stored hash; Digest credentials are
// recomputed from the stored password. Returns the username on success.
func (a *Authenticator) VerifyUser(ctx context.Context, c *Credentials, method string) (string, error) {
	switch c.Scheme {
	case "basic":
		if _, err := a.store.ValidateUser(ctx, c.Username, c.Password); err != nil {
			return "", ntrip.ErrUnauthorized
		}
		return c.Username, nil

	case "digest":
		if !a.nonceKnown(c.Nonce) {
			return "", ntrip.ErrUnauthorized
		}
		password, ok, err := a.store.UserPassword(ctx, c.Username)
		if err != nil || !ok {
			// Hashed records cannot back Digest; the client must retry
			// with Basic.
			return "", ntrip.ErrUnauthorized
		}

		ha1 := md5Hex(c.Username + ":" + digestRealm + ":" + password)
		ha2 := md5Hex(method + ":" + c.URI)
		expected := md5Hex(ha1 + ":" + c.Nonce + ":" + ha2)

		if !hexEqualFold(expected, c.Response) {
			return "", ntrip.ErrUnauthorized
		}
		return c.Username, nil

	default:
		return "", ntrip.ErrUnauthorized
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hexEqualFold compares hex digests constant-time, case-insensitively.
func hexEqualFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if len(la) != len(lb) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(la), []byte(lb)) == 1
}
