package media

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a hex encoded BLAKE2b-256 digest of data. It is used
// for duplicate detection and as a cache key for analysis results.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintAll hashes several payloads into a single digest. The order of
// the payloads matters.
func FingerprintAll(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		sum := blake2b.Sum256(p)
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
