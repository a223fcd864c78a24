// Package vclock implements the per-node snapshot counter map used to
// version actor snapshots.
//
// A Clock is serialized as "node:count;node:count" with node ids sorted
// lexically. Version reduces a clock to the sum of its counters: a cheap,
// order-insensitive progress scalar. It is not a causality comparator.
package vclock

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrOverflow is returned for a clock whose counters sum past math.MaxInt64.
var ErrOverflow = errors.New("vector clock version overflows int64")

// Clock maps node ids to counters.
type Clock map[string]uint64

// Parse decodes a serialized clock. The empty string is the zero clock.
func Parse(s string) (Clock, error) {
	c := Clock{}
	if s == "" {
		return c, nil
	}
	for _, part := range strings.Split(s, ";") {
		node, count, ok := strings.Cut(part, ":")
		if !ok || node == "" {
			return nil, fmt.Errorf("invalid vector clock entry %q in %q", part, s)
		}
		n, err := strconv.ParseUint(count, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter for node %q in %q: %w", node, s, err)
		}
		if _, dup := c[node]; dup {
			return nil, fmt.Errorf("duplicate node %q in %q", node, s)
		}
		c[node] = n
	}
	if _, ok := c.sum(); !ok {
		return nil, fmt.Errorf("parse %q: %w", s, ErrOverflow)
	}
	return c, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests.
func MustParse(s string) Clock {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String serializes c with node ids sorted lexically.
func (c Clock) String() string {
	nodes := slices.Sorted(maps.Keys(c))
	parts := make([]string, len(nodes))
	for i, node := range nodes {
		parts[i] = node + ":" + strconv.FormatUint(c[node], 10)
	}
	return strings.Join(parts, ";")
}

// Increment advances node's counter by one and returns the new value.
func (c Clock) Increment(node string) uint64 {
	c[node]++
	return c[node]
}

// Version sums all counters. A sum past math.MaxInt64 saturates; Parse
// and Next never produce such a clock.
func (c Clock) Version() int64 {
	total, ok := c.sum()
	if !ok {
		return math.MaxInt64
	}
	return int64(total)
}

func (c Clock) sum() (uint64, bool) {
	var total uint64
	for _, n := range c {
		if n > math.MaxInt64-total {
			return 0, false
		}
		total += n
	}
	return total, true
}

// Copy returns an independent copy of c.
func (c Clock) Copy() Clock {
	return maps.Clone(c)
}

// Merge raises each counter in c to at least its value in other.
func (c Clock) Merge(other Clock) {
	for node, n := range other {
		if n > c[node] {
			c[node] = n
		}
	}
}

// ToVersion parses s and returns its version.
func ToVersion(s string) (int64, error) {
	c, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return c.Version(), nil
}

// Next parses s, increments node and returns the new serialized clock and
// its version. It is the snapshot step: every store advances the storing
// node's counter.
func Next(s, node string) (string, int64, error) {
	c, err := Parse(s)
	if err != nil {
		return "", 0, err
	}
	c.Increment(node)
	if _, ok := c.sum(); !ok {
		return "", 0, fmt.Errorf("advance %q at %s: %w", s, node, ErrOverflow)
	}
	return c.String(), c.Version(), nil
}
