// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint hashes parts joined by newlines and returns the first n hex
// characters, or the full digest when n is out of range.
func (h *Hasher) Fingerprint(parts []string, n int) string {
	digest, _ := h.Hash([]byte(strings.Join(parts, "\n")))
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
