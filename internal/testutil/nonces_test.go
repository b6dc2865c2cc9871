package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceNonces_Counts(t *testing.T) {
	gen := NewSequenceNonces("n")

	assert.Equal(t, "n-1", gen.Generate())
	assert.Equal(t, "n-2", gen.Generate())
	assert.Equal(t, "n-3", gen.Generate())
}

func TestSequenceNonces_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequenceNonces("")
	assert.Equal(t, "test-nonce-1", gen.Generate())
}

func TestSequenceNonces_Deterministic(t *testing.T) {
	a := NewSequenceNonces("x")
	b := NewSequenceNonces("x")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Generate(), b.Generate())
	}
}

func TestSequenceNonces_ThreadSafeAndUnique(t *testing.T) {
	gen := NewSequenceNonces("t")
	const numGoroutines = 10
	const callsPerGoroutine = 100

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				nonce := gen.Generate()
				mu.Lock()
				assert.False(t, seen[nonce], "duplicate nonce %s", nonce)
				seen[nonce] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
