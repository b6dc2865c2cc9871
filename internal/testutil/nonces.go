package testutil

import (
	"fmt"
	"sync"
)

// SequenceNonces generates predictable nonces: "<prefix>-1", "<prefix>-2", ...
//
// This enables deterministic test execution and golden output comparison.
// Two generators with the same prefix produce the same sequence.
//
// Thread-safety: SequenceNonces is safe for concurrent use via internal mutex.
type SequenceNonces struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceNonces creates a nonce generator.
//
// If prefix is empty, "test-nonce" is used.
func NewSequenceNonces(prefix string) *SequenceNonces {
	if prefix == "" {
		prefix = "test-nonce"
	}
	return &SequenceNonces{prefix: prefix}
}

// Generate returns the next nonce in the sequence.
//
// Implements simulate.NonceGenerator.
func (g *SequenceNonces) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
