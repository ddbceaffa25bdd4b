package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	h := NewHasher()

	t.Run("produces 64 hex characters", func(t *testing.T) {
		fp := h.Fingerprint("Widget")
		assert.Len(t, fp, FingerprintLength)
		assert.True(t, IsFingerprint(fp))
	})

	t.Run("same name yields distinct fingerprints", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			fp := h.Fingerprint("Widget")
			assert.False(t, seen[fp], "duplicate fingerprint %s", fp)
			seen[fp] = true
		}
	})

	t.Run("pinned salt is deterministic", func(t *testing.T) {
		pinned := &Hasher{Salt: func() string { return "salt" }}
		assert.Equal(t, pinned.Fingerprint("Widget"), pinned.Fingerprint("Widget"))
		assert.NotEqual(t, pinned.Fingerprint("Widget"), pinned.Fingerprint("Gadget"))
	})
}

func TestIsFingerprint(t *testing.T) {
	assert.False(t, IsFingerprint(""))
	assert.False(t, IsFingerprint("mock-transaction-hash"))
	assert.False(t, IsFingerprint("ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789"))
	assert.True(t, IsFingerprint("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"))
}
