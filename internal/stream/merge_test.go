package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evactor/internal/ir"
)

func collect(t *testing.T, seq iter.Seq2[ir.Message, error]) ([]string, error) {
	t.Helper()
	var ids []string
	for evt, err := range seq {
		if err != nil {
			return ids, err
		}
		ids = append(ids, evt.ID)
	}
	return ids, nil
}

// slowSource delivers events with a pause before each one.
func slowSource(events []ir.Message, pause time.Duration) Source {
	return func(ctx context.Context) iter.Seq2[ir.Message, error] {
		return func(yield func(ir.Message, error) bool) {
			for _, evt := range events {
				select {
				case <-time.After(pause):
				case <-ctx.Done():
					return
				}
				if !yield(evt, nil) {
					return
				}
			}
		}
	}
}

// endlessSource delivers events until ctx ends.
func endlessSource(prefix string) Source {
	return func(ctx context.Context) iter.Seq2[ir.Message, error] {
		return func(yield func(ir.Message, error) bool) {
			for i := 0; ; i++ {
				if ctx.Err() != nil {
					return
				}
				if !yield(ir.Message{ID: fmt.Sprintf("%s%06d", prefix, i)}, nil) {
					return
				}
			}
		}
	}
}

func TestMerge_InterleavedSourcesComeOutSorted(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	parts := map[string][]ir.Message{}
	var want []string
	for i := 0; i < 300; i++ {
		id := fmt.Sprintf("e%05d", i)
		key := []string{"a", "b", "c", "d"}[rng.IntN(4)]
		parts[key] = append(parts[key], ir.Message{ID: id})
		want = append(want, id)
	}

	sources := map[string]Source{}
	for key, events := range parts {
		sources[key] = FromSlice(events)
	}

	got, err := collect(t, Merger{Buffer: 4}.Merge(context.Background(), sources))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMerge_WaitsForSlowSource(t *testing.T) {
	sources := map[string]Source{
		"fast": FromSlice(msgs("e02", "e04", "e06", "e08")),
		"slow": slowSource(msgs("e01", "e03", "e05", "e07"), 5*time.Millisecond),
	}

	got, err := collect(t, Merger{}.Merge(context.Background(), sources))
	require.NoError(t, err)
	assert.Equal(t, []string{"e01", "e02", "e03", "e04", "e05", "e06", "e07", "e08"}, got)
}

func TestMerge_UnevenLengths(t *testing.T) {
	sources := map[string]Source{
		"a": FromSlice(msgs("e1")),
		"b": FromSlice(msgs("e2", "e3", "e4", "e5")),
		"c": FromSlice(nil),
	}

	got, err := collect(t, Merger{}.Merge(context.Background(), sources))
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, got)
}

// heldSource yields events and then stays open until ctx ends.
func heldSource(events []ir.Message) Source {
	return func(ctx context.Context) iter.Seq2[ir.Message, error] {
		return func(yield func(ir.Message, error) bool) {
			for _, evt := range events {
				if !yield(evt, nil) {
					return
				}
			}
			<-ctx.Done()
		}
	}
}

func TestMerge_ExhaustedSourceNeedsOneBufferedEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sources := map[string]Source{
		"done": FromSlice(msgs("e01")),
		"open": heldSource(msgs("e02", "e03")),
	}

	var got []string
	for evt, err := range (Merger{}).Merge(ctx, sources) {
		require.NoError(t, err)
		got = append(got, evt.ID)
		if len(got) == 2 {
			break
		}
	}
	require.NoError(t, ctx.Err(), "merge stalled behind a source that is still open")
	assert.Equal(t, []string{"e01", "e02"}, got)
}

func TestMerge_SingleSourcePassesThrough(t *testing.T) {
	got, err := collect(t, Merger{}.Merge(context.Background(), map[string]Source{
		"a": FromSlice(msgs("e1", "e2")),
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, got)
}

func TestMerge_NoSources(t *testing.T) {
	got, err := collect(t, Merger{}.Merge(context.Background(), nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMerge_SourceErrorIsYieldedLast(t *testing.T) {
	boom := errors.New("boom")
	failing := func(ctx context.Context) iter.Seq2[ir.Message, error] {
		return func(yield func(ir.Message, error) bool) {
			if !yield(ir.Message{ID: "e1"}, nil) {
				return
			}
			yield(ir.Message{}, boom)
		}
	}

	got, err := collect(t, Merger{}.Merge(context.Background(), map[string]Source{
		"ok":   endlessSource("f"),
		"fail": failing,
	}))
	require.ErrorIs(t, err, boom)
	assert.Empty(t, got)
}

func TestMerge_EarlyBreakStopsProducers(t *testing.T) {
	sources := map[string]Source{
		"a": endlessSource("a"),
		"b": endlessSource("b"),
	}

	done := make(chan []string)
	go func() {
		var got []string
		for evt, err := range (Merger{Buffer: 8}).Merge(context.Background(), sources) {
			assert.NoError(t, err)
			got = append(got, evt.ID)
			if len(got) == 10 {
				break
			}
		}
		done <- got
	}()

	select {
	case got := <-done:
		assert.Len(t, got, 10)
		assert.True(t, slices.IsSorted(got))
	case <-time.After(2 * time.Second):
		t.Fatal("merge did not stop after consumer break")
	}
}

func TestMerge_ContextCancelEndsQuietly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	sources := map[string]Source{
		"a": slowSource(msgs("e1", "e3"), 5*time.Millisecond),
		"b": slowSource(msgs("e2", "e4", "e5", "e6", "e7"), time.Hour),
	}

	got, err := collect(t, Merger{}.Merge(ctx, sources))
	require.NoError(t, err)
	assert.Empty(t, got)
}
