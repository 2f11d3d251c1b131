package codec

import (
	"crypto/sha256"
	"encoding/hex"
)

// EventHash computes the lowercase-hex SHA-256 of the canonical bytes of
// envelope with sig and hash removed (spec.md §4.1, operation 2).
func EventHash(e *Envelope) (string, error) {
	b, err := e.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes computes the hex SHA-256 digest of arbitrary canonical bytes,
// used for snapshot hashing (spec.md §3.5) and P2P envelope hashing.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
