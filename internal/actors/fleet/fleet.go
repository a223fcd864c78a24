// Package fleet holds the trip and vehicle sample actors. A trip assigns
// itself a vehicle by emitting an event into the vehicle's log and then
// aggregates that vehicle's movements while it is on the trip.
package fleet

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/compiler"
	"github.com/roach88/evactor/internal/ir"
)

// Actor types.
const (
	TripType    = "trip"
	VehicleType = "vehicle"
)

// Manifest is the CUE source of both fleet actors.
//
//go:embed fleet.cue
var Manifest []byte

// Actions returns the Go actions the manifest names.
func Actions() compiler.Actions {
	return compiler.Actions{
		Commands: map[string]actor.Decide{
			"requestTrip":   requestTrip,
			"assignVehicle": assignVehicle,
			"finishTrip":    finishTrip,
			"refuseRequest": refuseTrip("trip was already requested"),
			"refuseAssign":  refuseTrip("trip is not waiting for a vehicle"),
			"refuseFinish":  refuseTrip("trip is not underway"),
			"moveVehicle":   moveVehicle,
		},
		Events: map[string]actor.Evolve{
			"tripRequested":   tripRequested,
			"vehicleChosen":   vehicleChosen,
			"tripFinished":    tripFinished,
			"tripAssigned":    tripAssigned,
			"tripMoved":       tripMoved,
			"vehicleMoved":    vehicleMoved,
			"vehicleAssigned": vehicleAssigned,
			"vehicleReleased": vehicleReleased,
		},
		Predicates: map[string]actor.Predicate{
			"onThisTrip": onThisTrip,
		},
	}
}

// Definitions compiles and binds the trip and vehicle actors.
func Definitions() ([]*actor.Definition, error) {
	defs, err := compiler.Definitions("fleet.cue", Manifest, Actions())
	if err != nil {
		return nil, fmt.Errorf("fleet: %w", err)
	}
	return defs, nil
}

func refuseTrip(reason string) actor.Decide {
	return func(ir.Record, ir.Message) ([]ir.Message, error) {
		return nil, errors.New(reason)
	}
}

func requestTrip(_ ir.Record, cmd ir.Message) ([]ir.Message, error) {
	origin := cmd.Data.String("origin")
	if origin == "" {
		return nil, errors.New("origin is required")
	}
	return []ir.Message{{Type: "requested", Data: ir.Record{"origin": origin}}}, nil
}

// assignVehicle records the choice in the trip's own log, so a replay
// knows which vehicle to aggregate, and tells the vehicle.
func assignVehicle(state ir.Record, cmd ir.Message) ([]ir.Message, error) {
	vin := cmd.Data.String("vin")
	if vin == "" {
		return nil, errors.New("vin is required")
	}
	trip := state.String("id")
	return []ir.Message{
		{Type: "vehicleChosen", Data: ir.Record{"vin": vin}},
		{Type: "vehicle.assigned", Data: ir.Record{
			VehicleType: ir.Record{"vin": vin},
			"trip":      trip,
		}},
	}, nil
}

func finishTrip(state ir.Record, _ ir.Message) ([]ir.Message, error) {
	return []ir.Message{
		{Type: "finished", Data: ir.Record{"distance": state.Int("distance")}},
		{Type: "vehicle.released", Data: ir.Record{
			VehicleType: ir.Record{"vin": state.String("vehicle")},
			"trip":      state.String("id"),
		}},
	}, nil
}

func moveVehicle(state ir.Record, cmd ir.Message) ([]ir.Message, error) {
	to := cmd.Data.String("to")
	if to == "" {
		return nil, errors.New("destination is required")
	}
	return []ir.Message{{Type: "moved", Data: ir.Record{
		"to":   to,
		"trip": state.String("trip"),
	}}}, nil
}

func onThisTrip(state ir.Record, evt ir.Message) bool {
	trip := evt.Data.String("trip")
	return trip != "" && trip == state.String("id")
}

func tripRequested(state ir.Record, evt ir.Message) error {
	state[ir.FieldState] = "requested"
	state["route"] = []any{evt.Data.String("origin")}
	return nil
}

func vehicleChosen(state ir.Record, evt ir.Message) error {
	state["vehicle"] = evt.Data.String("vin")
	return nil
}

func tripAssigned(state ir.Record, _ ir.Message) error {
	state[ir.FieldState] = "underway"
	return nil
}

func tripMoved(state ir.Record, evt ir.Message) error {
	route, _ := state["route"].([]any)
	state["route"] = append(route, evt.Data.String("to"))
	state["distance"] = state.Int("distance") + 1
	return nil
}

func tripFinished(state ir.Record, _ ir.Message) error {
	state[ir.FieldState] = "finished"
	return nil
}

func vehicleMoved(state ir.Record, evt ir.Message) error {
	state["location"] = evt.Data.String("to")
	state["odometer"] = state.Int("odometer") + 1
	return nil
}

func vehicleAssigned(state ir.Record, evt ir.Message) error {
	state[ir.FieldState] = "busy"
	state["trip"] = evt.Data.String("trip")
	return nil
}

func vehicleReleased(state ir.Record, _ ir.Message) error {
	state[ir.FieldState] = "idle"
	state["trip"] = ""
	return nil
}
