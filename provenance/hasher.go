// Package provenance derives the QR fingerprint that ties a physical item to
// its relational row and its chain-side record.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

// FingerprintLength is the length of a hex encoded sha256 digest
const FingerprintLength = 64

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Hasher derives QR fingerprints. Salt is injectable so tests can pin it.
type Hasher struct {
	Salt func() string
}

// NewHasher returns a hasher salted with a random uuid per call
func NewHasher() *Hasher {
	return &Hasher{Salt: func() string { return uuid.New().String() }}
}

// Fingerprint returns hex(sha256(name || salt))
func (h *Hasher) Fingerprint(name string) string {
	salt := h.Salt()
	sum := sha256.Sum256([]byte(name + "-" + salt))
	return hex.EncodeToString(sum[:])
}

// IsFingerprint reports whether s looks like a value produced by Fingerprint
func IsFingerprint(s string) bool {
	return fingerprintPattern.MatchString(s)
}
