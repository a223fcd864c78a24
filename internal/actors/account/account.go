// Package account is the sample bank account actor: an embedded CUE
// manifest bound to the Go actions below.
package account

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/compiler"
	"github.com/roach88/evactor/internal/ir"
)

// Type is the actor type name.
const Type = "account"

// Manifest is the CUE source of the account actor.
//
//go:embed account.cue
var Manifest []byte

// Lifecycle states.
const (
	StateNew    = "new"
	StateOpen   = "open"
	StateClosed = "closed"
)

// Actions returns the Go actions the manifest names.
func Actions() compiler.Actions {
	return compiler.Actions{
		Commands: map[string]actor.Decide{
			"open":           open,
			"deposit":        deposit,
			"withdraw":       withdraw,
			"close":          closeAccount,
			"refuseReopen":   refuse("account is already open or closed"),
			"refuseNotOpen":  refuse("account is not open"),
			"refuseWithdraw": refuseWithdraw,
			"refuseClose":    refuseClose,
		},
		Events: map[string]actor.Evolve{
			"opened":    opened,
			"deposited": deposited,
			"withdrawn": withdrawn,
			"closed":    closed,
		},
		Predicates: map[string]actor.Predicate{
			"covers": covers,
			"empty":  empty,
		},
	}
}

// Definition compiles and binds the account actor.
func Definition() (*actor.Definition, error) {
	defs, err := compiler.Definitions("account.cue", Manifest, Actions())
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return defs[0], nil
}

func open(_ ir.Record, cmd ir.Message) ([]ir.Message, error) {
	amount := cmd.Data.Int("initialDeposit")
	if amount < 0 {
		return nil, errors.New("initial deposit must not be negative")
	}
	events := []ir.Message{{Type: "opened", Data: ir.Record{"owner": cmd.Data.String("owner")}}}
	if amount > 0 {
		events = append(events, ir.Message{Type: "deposited", Data: ir.Record{"amount": amount}})
	}
	return events, nil
}

func deposit(_ ir.Record, cmd ir.Message) ([]ir.Message, error) {
	amount := cmd.Data.Int("amount")
	if amount <= 0 {
		return nil, errors.New("deposit must be positive")
	}
	return []ir.Message{{Type: "deposited", Data: ir.Record{"amount": amount}}}, nil
}

func withdraw(_ ir.Record, cmd ir.Message) ([]ir.Message, error) {
	return []ir.Message{{Type: "withdrawn", Data: ir.Record{"amount": cmd.Data.Int("amount")}}}, nil
}

func closeAccount(ir.Record, ir.Message) ([]ir.Message, error) {
	return []ir.Message{{Type: "closed"}}, nil
}

func refuse(reason string) actor.Decide {
	return func(ir.Record, ir.Message) ([]ir.Message, error) {
		return nil, errors.New(reason)
	}
}

func refuseWithdraw(state ir.Record, cmd ir.Message) ([]ir.Message, error) {
	switch amount := cmd.Data.Int("amount"); {
	case state.String(ir.FieldState) != StateOpen:
		return nil, errors.New("account is not open")
	case amount <= 0:
		return nil, errors.New("withdrawal must be positive")
	default:
		return nil, fmt.Errorf("insufficient funds: balance %d, requested %d", state.Int("balance"), amount)
	}
}

func refuseClose(state ir.Record, _ ir.Message) ([]ir.Message, error) {
	if state.String(ir.FieldState) != StateOpen {
		return nil, errors.New("account is not open")
	}
	return nil, fmt.Errorf("account still holds %d", state.Int("balance"))
}

func covers(state ir.Record, cmd ir.Message) bool {
	amount := cmd.Data.Int("amount")
	return state.String(ir.FieldState) == StateOpen && amount > 0 && state.Int("balance") >= amount
}

func empty(state ir.Record, _ ir.Message) bool {
	return state.String(ir.FieldState) == StateOpen && state.Int("balance") == 0
}

func opened(state ir.Record, evt ir.Message) error {
	state[ir.FieldState] = StateOpen
	state["open"] = true
	if owner := evt.Data.String("owner"); owner != "" {
		state["owner"] = owner
	}
	return nil
}

func deposited(state ir.Record, evt ir.Message) error {
	amount := evt.Data.Int("amount")
	state["balance"] = state.Int("balance") + amount
	appendTransaction(state, amount, 0)
	return nil
}

func withdrawn(state ir.Record, evt ir.Message) error {
	amount := evt.Data.Int("amount")
	if amount > state.Int("balance") {
		return fmt.Errorf("withdrawal of %d exceeds balance %d", amount, state.Int("balance"))
	}
	state["balance"] = state.Int("balance") - amount
	appendTransaction(state, 0, amount)
	return nil
}

func closed(state ir.Record, _ ir.Message) error {
	state[ir.FieldState] = StateClosed
	state["open"] = false
	return nil
}

func appendTransaction(state ir.Record, credit, debit int64) {
	txs, _ := state["transactions"].([]any)
	state["transactions"] = append(txs, ir.Record{"credit": credit, "debit": debit})
}
