package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedQueueSerializesSameKey(t *testing.T) {
	q := NewKeyedQueue(4)
	var inFlight, maxInFlight atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), "acct-1", func(context.Context) error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, 0, q.Pending())
}

func TestKeyedQueuePreservesRequestOrder(t *testing.T) {
	q := NewKeyedQueue(4)
	release := make(chan struct{})
	started := make(chan struct{})

	var mu sync.Mutex
	var order []int

	go func() {
		_ = q.Do(context.Background(), "k", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Do(context.Background(), "k", func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// Let each caller enqueue before the next one arrives.
		time.Sleep(20 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestKeyedQueueRunsDistinctKeysConcurrently(t *testing.T) {
	q := NewKeyedQueue(4)
	var barrier sync.WaitGroup
	barrier.Add(2)

	done := make(chan error, 2)
	for _, key := range []string{"a", "b"} {
		go func(key string) {
			done <- q.Do(context.Background(), key, func(context.Context) error {
				barrier.Done()
				barrier.Wait() // both keys must be inside at once
				return nil
			})
		}(key)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("distinct keys did not run concurrently")
		}
	}
}

func TestKeyedQueueBoundsSlots(t *testing.T) {
	q := NewKeyedQueue(2)
	assert.Equal(t, 2, q.Slots())

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_ = q.Do(context.Background(), key, func(context.Context) error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}(key)
	}
	wg.Wait()

	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
}

func TestKeyedQueueIsReentrantPerKey(t *testing.T) {
	q := NewKeyedQueue(1)
	var inner bool

	err := q.Do(context.Background(), "k", func(ctx context.Context) error {
		return q.Do(ctx, "k", func(context.Context) error {
			inner = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, inner)
}

func TestKeyedQueueAbandonedWaiterKeepsChain(t *testing.T) {
	q := NewKeyedQueue(4)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = q.Do(context.Background(), "k", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, "k", func(context.Context) error {
		t.Error("abandoned work must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ran := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), "k", func(context.Context) error {
			close(ran)
			return nil
		})
	}()

	select {
	case <-ran:
		t.Fatal("third caller ran while the first still held the key")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("chain stalled after an abandoned waiter")
	}
}

func TestImmediateRunsInline(t *testing.T) {
	called := false
	err := Immediate{}.Do(context.Background(), "k", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSequenceGeneratorSortsLexically(t *testing.T) {
	g := NewSequenceGeneratorAt("evt", 8)
	a, b, c := g.Generate(), g.Generate(), g.Generate()

	assert.Equal(t, "evt-000000000009", a)
	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.Equal(t, int64(11), g.Current())
}

func TestUUIDv7GeneratorIsMonotonic(t *testing.T) {
	var g UUIDv7Generator
	prev := g.Generate()
	for i := 0; i < 100; i++ {
		next := g.Generate()
		require.Less(t, prev, next)
		prev = next
	}
}

func TestFixedGeneratorPanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("a")
	assert.Equal(t, "a", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
