package store

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 10000
	pbkdf2KeyLen     = 32
	saltBytes        = 16
)

// HashPassword derives a salted PBKDF2-HMAC-SHA256 hash in the stored
// wire format "<salt>$<hex-digest>". The salt is 16 random bytes encoded
// as hex, so the full record stays printable.
func HashPassword(password string) (string, error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)

	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return salt + "$" + hex.EncodeToString(key), nil
}

// VerifyPassword checks a candidate password against a stored record.
// Records without a "$" separator are legacy plaintext entries and are
// compared directly; migrated records go through PBKDF2.
func VerifyPassword(password, stored string) bool {
	salt, digest, found := strings.Cut(stored, "$")
	if !found {
		return constantTimeEqual([]byte(password), []byte(stored))
	}

	want, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}

	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return constantTimeEqual(key, want)
}

// IsHashed reports whether a stored record is in the salted format.
func IsHashed(stored string) bool {
	return strings.Contains(stored, "$")
}

func constantTimeEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
