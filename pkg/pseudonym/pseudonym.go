// Package pseudonym provides deterministic, keyed one-way hashing of
// identifying request data (IP addresses, user-agent strings) so the raw
// values never have to be persisted.
package pseudonym

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// HashSize is the fixed width of every pseudonymized value.
const HashSize = sha256.Size

// ErrEmptyKey is returned when the engine is constructed without a secret.
var ErrEmptyKey = errors.New("pseudonymization key must not be empty")

// Engine computes HMAC-SHA256 fingerprints under a process-wide secret key.
// The key must be identical across horizontally-scaled instances or
// returning-guest recognition breaks between them. Rotating the key
// invalidates every stored fingerprint; there is no migration path.
type Engine struct {
	key []byte
}

// NewEngine creates an Engine from the shared secret key.
func NewEngine(key []byte) (*Engine, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	k := append([]byte{}, key...)
	return &Engine{key: k}, nil
}

// Hash returns the 32-byte HMAC-SHA256 of value under the engine key.
// Deterministic for a fixed key; the empty string is a valid input and
// hashes to a fixed value.
func (e *Engine) Hash(value string) []byte {
	mac := hmac.New(sha256.New, e.key)
	mac.Write([]byte(value))
	return mac.Sum(nil)
}

// Fingerprint hashes an (ip, user-agent) pair in one call.
func (e *Engine) Fingerprint(rawIP, rawUserAgent string) (ipHash, uaHash []byte) {
	return e.Hash(rawIP), e.Hash(rawUserAgent)
}

// HashHex returns the hex encoding of Hash, for logs and test fixtures.
func (e *Engine) HashHex(value string) string {
	return hex.EncodeToString(e.Hash(value))
}

// Equal compares two hashes in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// KeyFromString derives the engine key from a configured secret. The input
// can be:
//   - A base64-encoded 32-byte key (e.g., from: openssl rand -base64 32)
//   - Any passphrase (will be hashed to 32 bytes with SHA-256)
func KeyFromString(keyInput string) ([]byte, error) {
	if keyInput == "" {
		return nil, ErrEmptyKey
	}

	decoded, err := base64.StdEncoding.DecodeString(keyInput)
	if err == nil && len(decoded) == 32 {
		return decoded, nil
	}

	hash := sha256.Sum256([]byte(keyInput))
	return hash[:], nil
}
