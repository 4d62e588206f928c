package testutil

import (
	"fmt"
	"sync"
)

// SequenceUUIDGenerator generates well-formed UUIDs from a counter:
// 00000000-0000-4000-8000-000000000001, ...000002 and so on.
//
// This enables deterministic process ids and golden snapshot comparison.
// It implements engine.IDGenerator.
//
// Thread-safety: Generate is safe for concurrent use.
type SequenceUUIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequenceUUIDGenerator creates a generator. prefix replaces the first
// eight hex digits so two generators in one test never collide; empty
// means zeros.
func NewSequenceUUIDGenerator(prefix string) *SequenceUUIDGenerator {
	if prefix == "" {
		prefix = "00000000"
	}
	return &SequenceUUIDGenerator{prefix: prefix}
}

// Generate returns the next UUID.
func (g *SequenceUUIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%.8s-0000-4000-8000-%012d", g.prefix+"00000000", g.n)
}

// Reset restarts the sequence.
func (g *SequenceUUIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
