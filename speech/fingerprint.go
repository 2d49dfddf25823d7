package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintVersion is bumped whenever the key derivation changes, so
// stale cache entries from older layouts can never collide with new ones.
const FingerprintVersion = "v1"

// Fingerprint derives the cache key for one synthesis request. Equal
// inputs always yield an equal key; the key is opaque to callers.
//
// The text is expected to be normalized already; Fingerprint does not
// normalize it again.
func Fingerprint(text, voiceType, rate, pitch string) string {
	payload := strings.Join([]string{FingerprintVersion, text, voiceType, rate, pitch}, "\x1f")
	sum := sha256.Sum256([]byte(payload))
	return FingerprintVersion + "-" + hex.EncodeToString(sum[:])
}
