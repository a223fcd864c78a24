package fleet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/cache"
	"github.com/roach88/evactor/internal/compiler"
	"github.com/roach88/evactor/internal/engine"
	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/runtime"
	"github.com/roach88/evactor/internal/store"
	"github.com/roach88/evactor/internal/testutil"
)

func newRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	defs, err := Definitions()
	require.NoError(t, err)

	clock := testutil.NewDeterministicClockAt(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), time.Second)
	s, err := store.Open(filepath.Join(t.TempDir(), "evactor.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := cache.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return runtime.New(actor.MustRegistry(defs...), s, s,
		runtime.WithActorCache(c),
		runtime.WithEventCache(c),
		runtime.WithSearch(s),
		runtime.WithIDGenerator(testutil.NewSequenceIDs("")),
		runtime.WithClock(clock.Now),
		runtime.WithNodeID("n1"),
	)
}

func handle(t *testing.T, rt *runtime.Runtime, id, topic string, data ir.Record) engine.Result {
	t.Helper()
	results, err := rt.Handle(context.Background(), id, topic, ir.Message{Data: data})
	require.NoError(t, err)
	require.Len(t, results, 1)
	return results[0]
}

func eventTypes(res engine.Result) []string {
	out := make([]string, 0, len(res.Events))
	for _, evt := range res.Events {
		out = append(out, evt.Type)
	}
	return out
}

func fetch(t *testing.T, rt *runtime.Runtime, actorType, id string) ir.Record {
	t.Helper()
	inst, err := rt.Fetch(context.Background(), actorType, id, true)
	require.NoError(t, err)
	return inst.State
}

func TestDefinitions(t *testing.T) {
	defs, err := Definitions()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	byType := map[string]*actor.Definition{}
	for _, def := range defs {
		byType[def.Type] = def
	}
	require.Contains(t, byType, TripType)
	require.Contains(t, byType, VehicleType)
	assert.Equal(t, []string{VehicleType}, byType[TripType].AggregateFrom)
	assert.Equal(t, "vin", byType[VehicleType].Identity())
	assert.Equal(t, 20, byType[VehicleType].Threshold())
	assert.True(t, byType[VehicleType].SnapshotOnRead)
}

func TestManifest_NoAggregationCycle(t *testing.T) {
	manifests, err := compiler.CompileSource("fleet.cue", Manifest)
	require.NoError(t, err)
	assert.Empty(t, compiler.AnalyzeCycles(manifests))
}

func TestTrip_FollowsAssignedVehicle(t *testing.T) {
	rt := newRuntime(t)

	res := handle(t, rt, "t1", "trip.request", ir.Record{"origin": "depot"})
	require.False(t, res.Rejected, res.ReasonText())

	// A vehicle movement before the assignment is not part of the trip.
	handle(t, rt, "V1", "vehicle.move", ir.Record{"to": "garage"})

	res = handle(t, rt, "t1", "trip.assign", ir.Record{"vin": "V1"})
	require.False(t, res.Rejected, res.ReasonText())
	assert.Equal(t, []string{"trip.vehicleChosen", "vehicle.assigned"}, eventTypes(res))
	assert.Equal(t, "underway", res.State.String(ir.FieldState))
	assert.Equal(t, VehicleType, res.Events[1].ActorType)

	handle(t, rt, "V1", "vehicle.move", ir.Record{"to": "a"})
	handle(t, rt, "V1", "vehicle.move", ir.Record{"to": "b"})

	trip := fetch(t, rt, TripType, "t1")
	assert.Equal(t, "V1", trip.String("vehicle"))
	assert.Equal(t, []any{"depot", "a", "b"}, trip["route"])
	assert.Equal(t, int64(2), trip.Int("distance"))

	vehicle := fetch(t, rt, VehicleType, "V1")
	assert.Equal(t, "busy", vehicle.String(ir.FieldState))
	assert.Equal(t, "t1", vehicle.String("trip"))
	assert.Equal(t, int64(3), vehicle.Int("odometer"))
}

func TestTrip_FinishReleasesVehicle(t *testing.T) {
	rt := newRuntime(t)
	handle(t, rt, "t1", "trip.request", ir.Record{"origin": "depot"})
	handle(t, rt, "t1", "trip.assign", ir.Record{"vin": "V1"})
	handle(t, rt, "V1", "vehicle.move", ir.Record{"to": "a"})

	res := handle(t, rt, "t1", "trip.finish", nil)
	require.False(t, res.Rejected, res.ReasonText())
	assert.Equal(t, []string{"trip.finished", "vehicle.released"}, eventTypes(res))

	handle(t, rt, "V1", "vehicle.move", ir.Record{"to": "b"})

	trip := fetch(t, rt, TripType, "t1")
	assert.Equal(t, "finished", trip.String(ir.FieldState))
	assert.Equal(t, int64(1), trip.Int("distance"))

	vehicle := fetch(t, rt, VehicleType, "V1")
	assert.Equal(t, "idle", vehicle.String(ir.FieldState))
	assert.Empty(t, vehicle.String("trip"))
	assert.Equal(t, "b", vehicle.String("location"))
}

func TestTrip_Refusals(t *testing.T) {
	rt := newRuntime(t)

	res := handle(t, rt, "t1", "trip.assign", ir.Record{"vin": "V1"})
	assert.True(t, res.Rejected)
	assert.Equal(t, "trip is not waiting for a vehicle", res.ReasonText())

	res = handle(t, rt, "t1", "trip.request", nil)
	assert.True(t, res.Rejected)
	assert.Equal(t, "origin is required", res.ReasonText())

	handle(t, rt, "t1", "trip.request", ir.Record{"origin": "depot"})
	res = handle(t, rt, "t1", "trip.request", ir.Record{"origin": "depot"})
	assert.Equal(t, "trip was already requested", res.ReasonText())

	res = handle(t, rt, "t1", "trip.finish", nil)
	assert.Equal(t, "trip is not underway", res.ReasonText())
}

func TestTrip_Timeline(t *testing.T) {
	rt := newRuntime(t)
	handle(t, rt, "t1", "trip.request", ir.Record{"origin": "depot"})
	handle(t, rt, "t1", "trip.assign", ir.Record{"vin": "V1"})
	handle(t, rt, "V1", "vehicle.move", ir.Record{"to": "a"})

	var distances []int64
	for frame, err := range rt.ActorStream(context.Background(), TripType, "t1", runtime.ActorStreamOptions{}) {
		require.NoError(t, err)
		distances = append(distances, frame.State.Int("distance"))
	}
	// requested, vehicleChosen, vehicle.assigned, vehicle.moved
	assert.Equal(t, []int64{0, 0, 0, 1}, distances)
}
