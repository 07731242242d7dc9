package notify

import (
	"crypto/rand"
	"encoding/hex"
)

// newRandomHex returns a cryptographically secure random hex string of
// length 2*nBytes; nBytes <= 0 defaults to 16 bytes (32 hex chars).
// An empty return means the entropy source failed; callers treat it as an
// error-like condition.
func newRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
