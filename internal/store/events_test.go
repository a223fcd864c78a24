package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
)

func TestEvents_StoreAndRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	events := []ir.Message{
		testEvent("e02", "account.deposited", ir.Record{"amount": int64(50), "note": "<salary>"}),
		testEvent("e01", "account.opened", ir.Record{"owner": "ann", "rate": 1.5}),
	}
	require.NoError(t, s.StoreEvents(ctx, "sys", events))

	got, err := s.GetEventsFor(ctx, "sys", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"e01", "e02"}, ir.EventIDs(got), "events come back in id order")
	assert.Equal(t, int64(50), got[1].Data.Int("amount"))
	assert.Equal(t, "<salary>", got[1].Data.String("note"))
	assert.Equal(t, 1.5, got[0].Data["rate"])
	assert.True(t, testNow.Equal(got[0].CreatedOn))

	tail, err := s.GetEventsFor(ctx, "sys", "e01")
	require.NoError(t, err)
	assert.Equal(t, []string{"e02"}, ir.EventIDs(tail))

	none, err := s.GetEventsFor(ctx, "other", "")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestEvents_StoreIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	evt := testEvent("e01", "account.opened", nil)
	require.NoError(t, s.StoreEvents(ctx, "sys", []ir.Message{evt}))
	require.NoError(t, s.StoreEvents(ctx, "sys", []ir.Message{evt}))

	got, err := s.GetEventsFor(ctx, "sys", "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEvents_RejectsMissingID(t *testing.T) {
	s := createTestStore(t)

	err := s.StoreEvents(context.Background(), "sys", []ir.Message{testEvent("", "account.opened", nil)})
	assert.ErrorContains(t, err, "has no id")
}

func TestEventPack_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	events := []ir.Message{
		testEvent("e01", "counter.incremented", ir.Record{"by": int64(1)}),
		testEvent("e02", "counter.incremented", ir.Record{"by": int64(2)}),
	}
	require.NoError(t, s.StoreEvents(ctx, "sys", events))

	id, err := ir.PackID("sys", "snap-1", ir.EventIDs(events))
	require.NoError(t, err)
	pack := adapter.EventPack{ID: id, SystemID: "sys", SnapshotID: "snap-1", Events: events}
	require.NoError(t, s.StoreEventPack(ctx, pack))
	require.NoError(t, s.StoreEventPack(ctx, pack))

	got, err := s.GetEventPackFor(ctx, "sys", "snap-1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, []string{"e01", "e02"}, ir.EventIDs(got.Events))
	assert.True(t, testNow.Equal(got.CreatedOn), "created_on defaults to the store clock")

	_, err = s.GetEventPackFor(ctx, "sys", "snap-2")
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}

func TestGetEventsByIndex(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	opened := testEvent("e01", "account.opened", nil)
	opened.InitiatedByID = "cmd-1"
	opened.CreatedByID = "acc-sys"
	deposited := testEvent("e02", "account.deposited", nil)
	deposited.InitiatedByID = "cmd-1"
	deposited.CreatedByID = "acc-sys"
	moved := testEvent("e03", "vehicle.moved", nil)
	moved.InitiatedByID = "cmd-2"
	moved.CreatedByID = "trip-sys"

	require.NoError(t, s.StoreEvents(ctx, "acc-sys", []ir.Message{opened, deposited}))
	require.NoError(t, s.StoreEvents(ctx, "veh-sys", []ir.Message{moved}))

	tests := []struct {
		index string
		value string
		want  []string
	}{
		{adapter.IndexInitiatedByID, "cmd-1", []string{"e01", "e02"}},
		{adapter.IndexCreatedByID, "trip-sys", []string{"e03"}},
		{adapter.IndexType, "account.deposited", []string{"e02"}},
		{adapter.IndexType, "account.closed", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.index+"="+tt.value, func(t *testing.T) {
			got, err := s.GetEventsByIndex(ctx, tt.index, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ir.EventIDs(got))
		})
	}

	_, err := s.GetEventsByIndex(ctx, "actor_id", "x")
	assert.ErrorContains(t, err, "unknown index")
}

func collect(t *testing.T, seq func(func(ir.Message, error) bool)) []string {
	t.Helper()
	var ids []string
	for evt, err := range seq {
		require.NoError(t, err)
		ids = append(ids, evt.ID)
	}
	return ids
}

func TestEventStream_Options(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	acc := []ir.Message{
		testEvent("e01", "account.opened", nil),
		testEvent("e03", "account.deposited", nil),
		testEvent("e05", "account.deposited", nil),
	}
	acc[2].CreatedOn = testNow.Add(time.Hour)
	veh := []ir.Message{
		{ID: "e02", Type: "vehicle.moved", ActorType: "vehicle", CreatedOn: testNow},
		{ID: "e04", Type: "trip.logged", ActorType: "vehicle", CreatedOn: testNow},
	}
	require.NoError(t, s.StoreEvents(ctx, "acc-sys", acc))
	require.NoError(t, s.StoreEvents(ctx, "veh-sys", veh))

	tests := []struct {
		name     string
		systemID string
		opts     adapter.StreamOptions
		want     []string
	}{
		{"one actor", "acc-sys", adapter.StreamOptions{}, []string{"e01", "e03", "e05"}},
		{"after id", "acc-sys", adapter.StreamOptions{AfterID: "e01"}, []string{"e03", "e05"}},
		{"by actor type", "", adapter.StreamOptions{ActorType: "vehicle"}, []string{"e02", "e04"}},
		{"all types", "", adapter.StreamOptions{}, []string{"e01", "e02", "e03", "e04", "e05"}},
		{"event types", "", adapter.StreamOptions{EventTypes: []string{"account.deposited", "vehicle.moved"}}, []string{"e02", "e03", "e05"}},
		{"since", "acc-sys", adapter.StreamOptions{Since: testNow.Add(time.Minute)}, []string{"e05"}},
		{"small pages", "", adapter.StreamOptions{BatchSize: 2}, []string{"e01", "e02", "e03", "e04", "e05"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, s.GetEventStreamFor(ctx, tt.systemID, tt.opts))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventStream_EarlyBreak(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreEvents(ctx, "sys", []ir.Message{
		testEvent("e01", "counter.incremented", nil),
		testEvent("e02", "counter.incremented", nil),
		testEvent("e03", "counter.incremented", nil),
	}))

	var ids []string
	for evt, err := range s.GetEventStreamFor(ctx, "sys", adapter.StreamOptions{BatchSize: 1}) {
		require.NoError(t, err)
		ids = append(ids, evt.ID)
		if len(ids) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"e01", "e02"}, ids)
}

func TestEventStream_Follow(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.StoreEvents(ctx, "sys", []ir.Message{testEvent("e01", "counter.incremented", nil)}))

	seen := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt, err := range s.GetEventStreamFor(ctx, "sys", adapter.StreamOptions{
			Follow:       true,
			PollInterval: 10 * time.Millisecond,
		}) {
			if err != nil {
				return
			}
			seen <- evt.ID
		}
	}()

	assert.Equal(t, "e01", <-seen)
	require.NoError(t, s.StoreEvents(ctx, "sys", []ir.Message{testEvent("e02", "counter.incremented", nil)}))
	assert.Equal(t, "e02", <-seen)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("follow stream did not end after cancel")
	}
}
