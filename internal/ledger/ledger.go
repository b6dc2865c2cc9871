// Package ledger records the nonces of accepted sensor submissions.
//
// A ledger enforces at-most-once admission per nonce for its whole lifetime.
// Entries are never evicted: a nonce consumed once stays consumed, and the
// ledger grows with every accepted submission. Callers that need bounded
// memory must use a persistent implementation (see internal/store).
//
// Claim is the only write and it is atomic: of any number of concurrent
// claims for the same nonce, exactly one returns true.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/sensorgate/internal/sensor"
)

// Entry is one accepted submission.
type Entry struct {
	Nonce      string      `json:"nonce"`
	SensorID   string      `json:"sensor_id"`
	SensorType sensor.Type `json:"sensor_type"`
	AcceptedAt time.Time   `json:"accepted_at"`

	// Digest is the payload fingerprint (see Digest). Optional.
	Digest string `json:"digest,omitempty"`
}

// Ledger is the replay ledger contract.
type Ledger interface {
	// Seen reports whether nonce has already been claimed.
	Seen(ctx context.Context, nonce string) (bool, error)

	// Claim records e if its nonce is unclaimed and reports whether it did.
	// An existing entry is never overwritten.
	Claim(ctx context.Context, e Entry) (bool, error)

	// Len returns the number of claimed nonces.
	Len(ctx context.Context) (int, error)
}

// Memory is a process-local Ledger. The zero value is not usable; use NewMemory.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Seen implements Ledger.
func (m *Memory) Seen(_ context.Context, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[nonce]
	return ok, nil
}

// Claim implements Ledger.
func (m *Memory) Claim(_ context.Context, e Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.Nonce]; ok {
		return false, nil
	}
	m.entries[e.Nonce] = e
	return true, nil
}

// Len implements Ledger.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// Get returns the entry recorded for nonce.
func (m *Memory) Get(nonce string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[nonce]
	return e, ok
}
