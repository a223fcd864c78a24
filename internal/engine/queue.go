package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultSlots is the default number of identities that may run at once.
const DefaultSlots = 8

// Executor runs fn on behalf of an actor identity.
type Executor interface {
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}

// Immediate runs fn synchronously without serialization. It is used for
// event application that already happens inside a held slot.
type Immediate struct{}

// Do calls fn.
func (Immediate) Do(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// KeyedQueue serializes work per key and bounds the number of keys running
// at once.
//
// Work for one key runs strictly in Do call order: each call waits for the
// previous call on the same key to finish. Distinct keys run concurrently,
// limited by a weighted semaphore of size slots.
//
// Do is reentrant per key: a Do for key made from inside a running Do for
// the same key (detected through the context) runs immediately instead of
// deadlocking behind itself.
//
// Abandoning a Do through ctx never breaks the chain: a caller that gives up
// while waiting hands its turn on once the previous holder finishes. Work
// that has already started is not interrupted.
type KeyedQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	slots *semaphore.Weighted
	size  int64
}

// NewKeyedQueue creates a queue admitting at most slots keys at once.
// slots <= 0 selects DefaultSlots.
func NewKeyedQueue(slots int) *KeyedQueue {
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &KeyedQueue{
		tails: make(map[string]chan struct{}),
		slots: semaphore.NewWeighted(int64(slots)),
		size:  int64(slots),
	}
}

type heldKey struct {
	q   *KeyedQueue
	key string
}

// Do runs fn while holding key's slot.
func (q *KeyedQueue) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	if held, _ := ctx.Value(heldKey{q: q, key: key}).(bool); held {
		return fn(ctx)
	}

	start := time.Now()

	q.mu.Lock()
	prev := q.tails[key]
	done := make(chan struct{})
	q.tails[key] = done
	q.mu.Unlock()

	release := func() {
		q.mu.Lock()
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
		close(done)
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				release()
			}()
			return ctx.Err()
		}
	}

	if err := q.slots.Acquire(ctx, 1); err != nil {
		release()
		return err
	}
	queueWaitDuration.Observe(time.Since(start).Seconds())

	defer func() {
		q.slots.Release(1)
		release()
	}()

	return fn(context.WithValue(ctx, heldKey{q: q, key: key}, true))
}

// Pending returns the number of keys with queued or running work.
func (q *KeyedQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}

// Slots returns the slot limit.
func (q *KeyedQueue) Slots() int {
	return int(q.size)
}
