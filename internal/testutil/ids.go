package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates zero-padded sequential ids ("id-000000000001",
// "id-000000000002", ...). Zero padding keeps them lexically ordered, which
// the runtime relies on for event ids.
//
// It implements engine.IDGenerator and, unlike engine.SequenceGenerator,
// can be reset so the same scenario yields byte-identical logs when rerun.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%012d", g.prefix, g.seq)
}

// Current returns the number of ids generated so far.
func (g *SequenceIDs) Current() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence at 1.
func (g *SequenceIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
