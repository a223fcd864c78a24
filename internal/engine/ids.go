package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator mints message, system and snapshot ids.
//
// Ids from one generator must be strictly increasing when compared as
// strings: event order is id order.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// UUIDv7 embeds a millisecond timestamp in the most significant bits and
// google/uuid keeps ids monotonic within a process, so ids sort by
// creation order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator produces zero-padded sequential ids ("evt-000000000001")
// that sort lexically in generation order.
//
// Thread-safety: SequenceGenerator is safe for concurrent use (atomic).
type SequenceGenerator struct {
	prefix string
	seq    atomic.Int64
}

// NewSequenceGenerator creates a generator whose first id is prefix-1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// NewSequenceGeneratorAt creates a generator resuming after start.
func NewSequenceGeneratorAt(prefix string, start int64) *SequenceGenerator {
	g := &SequenceGenerator{prefix: prefix}
	g.seq.Store(start)
	return g
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	return fmt.Sprintf("%s-%012d", g.prefix, g.seq.Add(1))
}

// Current returns the last issued sequence number.
func (g *SequenceGenerator) Current() int64 {
	return g.seq.Load()
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed: the test asked for more ids than it
// configured.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
