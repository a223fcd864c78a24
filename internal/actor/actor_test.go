package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evactor/internal/ir"
)

func noopDecide(ir.Record, ir.Message) ([]ir.Message, error) { return nil, nil }
func noopEvolve(ir.Record, ir.Message) error { return nil }

func TestGuardMatches(t *testing.T) {
	state := ir.Record{"state": "open", "balance": int64(5)}
	msg := ir.Message{Type: "account.withdraw", Data: ir.Record{"amount": int64(10)}}

	assert.True(t, Always().Matches(state, msg))
	assert.True(t, InState("open").Matches(state, msg))
	assert.False(t, InState("closed").Matches(state, msg))

	overdraw := When(func(s ir.Record, m ir.Message) bool {
		return m.Data.Int("amount") > s.Int("balance")
	})
	assert.True(t, overdraw.Matches(state, msg))
	assert.False(t, Guard{Kind: GuardPredicate}.Matches(state, msg))
}

func TestDefinitionQualifiesTopics(t *testing.T) {
	def := New("trip").
		Command("start", noopDecide, Exclusive()).
		Event("started", noopEvolve).
		Event("vehicle.moved", noopEvolve, Guarded(InState("active")))

	hs, kind, ok := def.Handlers("trip.start")
	require.True(t, ok)
	assert.Equal(t, KindCommand, kind)
	assert.True(t, hs[0].Exclusive)
	assert.Equal(t, ir.Topic{Owner: "trip", Name: "start"}, hs[0].Topic)

	hs, kind, ok = def.Handlers("vehicle.moved")
	require.True(t, ok)
	assert.Equal(t, KindEvent, kind)
	assert.Equal(t, "vehicle", hs[0].Topic.Owner)
	assert.Equal(t, GuardState, hs[0].Guard.Kind)

	_, _, ok = def.Handlers("trip.unknown")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"trip.start", "trip.started", "vehicle.moved"}, def.Topics())
}

func TestDefinitionDefaults(t *testing.T) {
	def := New("account")
	assert.Equal(t, "id", def.Identity())
	assert.Equal(t, 50, def.Threshold())

	def.IdentityField = "number"
	def.EventThreshold = 3
	def.Initial = func() ir.Record { return ir.Record{"balance": int64(0)} }
	assert.Equal(t, ir.Record{"number": "a1", "balance": int64(0)}, def.NewState("a1"))
}

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
	}{
		{"empty type", New("")},
		{"dotted type", New("a.b")},
		{"reserved identity", &Definition{Type: "a", IdentityField: "_id"}},
		{"self aggregate", &Definition{Type: "a", AggregateFrom: []string{"a"}}},
		{"missing decide", New("a").Command("x", nil)},
		{"missing evolve", New("a").Event("y", nil)},
		{"empty state guard", New("a").Command("x", noopDecide, Guarded(Guard{Kind: GuardState}))},
		{"nil predicate", New("a").Event("y", noopEvolve, Guarded(Guard{Kind: GuardPredicate}))},
		{"command and event", New("a").Command("x", noopDecide).Event("x", noopEvolve)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.def.Validate())
		})
	}

	assert.NoError(t, New("a").Command("x", noopDecide).Event("y", noopEvolve).Validate())
}

func TestRegistryRoutes(t *testing.T) {
	trip := New("trip").Command("start", noopDecide).Event("vehicle.moved", noopEvolve)
	vehicle := New("vehicle").Command("move", noopDecide).Event("moved", noopEvolve)

	reg, err := NewRegistry(vehicle, trip)
	require.NoError(t, err)

	assert.Equal(t, []string{"vehicle", "trip"}, reg.Route("vehicle.moved"))
	assert.Equal(t, []string{"trip"}, reg.Route("trip.start"))
	assert.Empty(t, reg.Route("nobody.home"))
	assert.Equal(t, []string{"trip.start", "vehicle.move", "vehicle.moved"}, reg.Topics())
	assert.Equal(t, []string{"vehicle", "trip"}, reg.Types())

	def, ok := reg.Definition("trip")
	require.True(t, ok)
	assert.Same(t, trip, def)

	err = reg.Register(New("trip"))
	assert.Error(t, err)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	_, err := NewRegistry(New("bad").Command("x", nil))
	assert.Error(t, err)

	_, err = NewRegistry(nil)
	assert.Error(t, err)
}

func TestEventsDropsNil(t *testing.T) {
	evts := Events(Emit("opened", ir.Record{"a": 1}), nil, Emit("deposited", nil))
	require.Len(t, evts, 2)
	assert.Equal(t, "opened", evts[0].Type)
	assert.Equal(t, "deposited", evts[1].Type)
}

func TestInstanceAccessors(t *testing.T) {
	def := New("account")
	inst := NewInstance(def, ir.Record{
		"id":           "a1",
		"_id":          "sys-1",
		"_lastEventId": "e5",
		"_related":     map[string]any{"vehicle": map[string]any{"_lastEventId": "e3"}},
	})

	assert.Equal(t, "account", inst.Type())
	assert.Equal(t, "a1", inst.ID())
	assert.Equal(t, "sys-1", inst.SystemID())
	assert.Equal(t, "e5", inst.LastEventID())
	assert.Equal(t, "e3", inst.RelatedLastEventID("vehicle"))
	assert.Equal(t, "", inst.RelatedLastEventID("driver"))

	clone := inst.Clone()
	clone.State["id"] = "a2"
	assert.Equal(t, "a1", inst.ID())
}
