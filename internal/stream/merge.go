package stream

import (
	"context"
	"iter"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/evactor/internal/ir"
)

// DefaultBuffer bounds how many events each source may buffer ahead of
// the consumer.
const DefaultBuffer = 256

// Source opens one ordered event stream, typically all events of one
// actor type in ascending id order. The stream must end when ctx ends.
type Source func(ctx context.Context) iter.Seq2[ir.Message, error]

// Merger merges sources into one ascending-by-id stream.
type Merger struct {
	// Buffer bounds per-source read-ahead. Values below 2 use DefaultBuffer.
	Buffer int
}

// Merge returns the merged stream of sources. Every source is drained by
// its own goroutine; the returned iterator emits events only once every
// still-open source has buffered two events, so an event is never emitted
// before an older event a slower source has yet to deliver.
//
// The stream ends when every source is exhausted and drained, when a
// source fails (the error is yielded last), or when ctx ends.
func (m Merger) Merge(ctx context.Context, sources map[string]Source) iter.Seq2[ir.Message, error] {
	return func(yield func(ir.Message, error) bool) {
		if len(sources) == 0 {
			return
		}
		if len(sources) == 1 {
			for _, src := range sources {
				for evt, err := range src(ctx) {
					if !yield(evt, err) || err != nil {
						return
					}
				}
			}
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		b := newBuffer(sources, m.buffer())

		g, gctx := errgroup.WithContext(ctx)
		for key, src := range sources {
			g.Go(func() error { return b.fill(gctx, key, src) })
		}
		defer func() {
			cancel()
			_ = g.Wait()
		}()

		for {
			events, done, err := b.next(gctx)
			for _, evt := range events {
				if !yield(evt, nil) {
					return
				}
			}
			if done {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if werr := g.Wait(); werr != nil {
					err = werr
				}
				yield(ir.Message{}, err)
				return
			}
		}
	}
}

func (m Merger) buffer() int {
	if m.Buffer < 2 {
		return DefaultBuffer
	}
	return m.Buffer
}

// buffer holds per-source queues shared between producers and the
// consumer.
type buffer struct {
	mu        sync.Mutex
	queues    map[string][]ir.Message
	exhausted map[string]bool
	limit     int

	// notify wakes the consumer; space wakes producers.
	notify chan struct{}
	space  chan struct{}
}

func newBuffer(sources map[string]Source, limit int) *buffer {
	b := &buffer{
		queues:    make(map[string][]ir.Message, len(sources)),
		exhausted: make(map[string]bool, len(sources)),
		limit:     limit,
		notify:    make(chan struct{}, 1),
		space:     make(chan struct{}),
	}
	for key := range sources {
		b.queues[key] = nil
	}
	return b
}

// fill drains src into its queue. A source is marked exhausted only when
// it ends cleanly.
func (b *buffer) fill(ctx context.Context, key string, src Source) error {
	for evt, err := range src(ctx) {
		if err != nil {
			return err
		}
		if err := b.push(ctx, key, evt); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.exhausted[key] = true
	b.mu.Unlock()
	b.wake()
	return nil
}

// push appends evt, waiting for room when the queue is full.
func (b *buffer) push(ctx context.Context, key string, evt ir.Message) error {
	for {
		b.mu.Lock()
		if len(b.queues[key]) < b.limit {
			b.queues[key] = append(b.queues[key], evt)
			b.mu.Unlock()
			b.wake()
			return nil
		}
		space := b.space
		b.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *buffer) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// next blocks until a decision cycle can run and returns its events. done
// reports that every source is exhausted and drained.
func (b *buffer) next(ctx context.Context) (events []ir.Message, done bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		b.mu.Lock()
		b.prune()
		if len(b.queues) == 0 {
			b.mu.Unlock()
			return nil, true, nil
		}
		if b.ready() {
			events = ChooseEvents(b.queues)
			// Release producers waiting for room.
			close(b.space)
			b.space = make(chan struct{})
			b.mu.Unlock()
			return events, false, nil
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// prune drops exhausted, drained queues.
func (b *buffer) prune() {
	for key, q := range b.queues {
		if len(q) == 0 && b.exhausted[key] {
			delete(b.queues, key)
		}
	}
}

// ready reports whether every open queue holds two events and every
// exhausted queue holds one.
func (b *buffer) ready() bool {
	open := make(map[string][]ir.Message, len(b.queues))
	closed := make(map[string][]ir.Message, len(b.queues))
	for key, q := range b.queues {
		if b.exhausted[key] {
			closed[key] = q
		} else {
			open[key] = q
		}
	}
	return CheckQueues(open, len(open), 2) && CheckQueues(closed, len(closed), 1)
}
