package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// verifierEntropyBytes gives 256 bits of entropy, which encodes to a
// 43-character verifier (RFC 7636 allows 43-128).
const verifierEntropyBytes = 32

// GenerateVerifier returns a new random PKCE code verifier encoded with the
// URL-safe, unpadded base64 alphabet.
func GenerateVerifier() (string, error) {
	b := make([]byte, verifierEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes for verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DeriveChallenge returns the S256 code challenge for a verifier: the SHA-256
// digest of the verifier's bytes, base64url-encoded without padding.
func DeriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState returns an unguessable state token correlating an
// authorization redirect with the flow that initiated it. The timestamp
// component keeps states unique across rapid successive flows even in the
// unlikely event of a random collision.
func GenerateState() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes for state: %w", err)
	}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "." + hex.EncodeToString(b), nil
}
