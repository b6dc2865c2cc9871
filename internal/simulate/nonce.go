package simulate

import "github.com/google/uuid"

// NonceGenerator produces submission nonces.
// Implemented by UUIDv7Generator (production) and testutil.SequenceNonces (tests).
type NonceGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 nonces.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ledger listings
// ordered by nonce roughly follow submission time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
