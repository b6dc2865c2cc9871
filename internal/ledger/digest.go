package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainPayload separates payload digests from any other SHA-256 use.
const DomainPayload = "sensorgate/payload/v1"

// Digest fingerprints an accepted payload for the audit trail.
// Format: hex(SHA256(domain + 0x00 + payload)).
func Digest(payload []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainPayload))
	h.Write([]byte{0x00})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
