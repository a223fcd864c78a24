package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/ir"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// ledgerDef is a small account-like actor used across engine tests.
func ledgerDef() *actor.Definition {
	def := actor.New("ledger")
	def.SearchFields = []string{"balance"}
	def.Initial = func() ir.Record { return ir.Record{"balance": int64(0)} }

	def.Command("open", func(state ir.Record, cmd ir.Message) ([]ir.Message, error) {
		if state.String("state") == "open" {
			return nil, errors.New("already open")
		}
		evts := []ir.Message{{Type: "opened"}}
		if amt := cmd.Data.Int("initial"); amt > 0 {
			evts = append(evts, ir.Message{Type: "credited", Data: ir.Record{"amount": amt}})
		}
		return evts, nil
	})
	def.Command("credit", func(_ ir.Record, cmd ir.Message) ([]ir.Message, error) {
		return []ir.Message{{Type: "credited", Data: ir.Record{"amount": cmd.Data.Int("amount")}}}, nil
	}, actor.Guarded(actor.InState("open")))
	def.Command("credit", func(ir.Record, ir.Message) ([]ir.Message, error) {
		return nil, errors.New("ledger is not open")
	}, actor.Exclusive())
	def.Command("break", func(ir.Record, ir.Message) ([]ir.Message, error) {
		return []ir.Message{{Type: "broken"}}, nil
	})
	def.Command("tag", func(_ ir.Record, cmd ir.Message) ([]ir.Message, error) {
		return []ir.Message{{
			Type: "label.attached",
			Data: ir.Record{"label": ir.Record{"name": cmd.Data.String("label")}},
		}}, nil
	})

	def.Event("opened", func(state ir.Record, _ ir.Message) error {
		state["state"] = "open"
		return nil
	})
	def.Event("credited", func(state ir.Record, evt ir.Message) error {
		state["balance"] = state.Int("balance") + evt.Data.Int("amount")
		return nil
	})
	def.Event("broken", func(ir.Record, ir.Message) error {
		return errors.New("cannot apply broken")
	})
	def.Event("label.attached", func(state ir.Record, evt ir.Message) error {
		state["label"] = evt.Data.String("label.name")
		return nil
	})
	return def
}

func labelDef() *actor.Definition {
	def := actor.New("label")
	def.IdentityField = "name"
	def.Event("attached", func(state ir.Record, _ ir.Message) error {
		state["attachments"] = state.Int("attachments") + 1
		return nil
	})
	return def
}

// memManager is an in-memory InstanceManager that rebuilds instances by
// folding their stored events.
type memManager struct {
	mu       sync.Mutex
	router   Router
	applier  *Applier
	ids      IDGenerator
	systemID map[string]string
	logs     map[string][]ir.Message
	stores   []storeCall
	failGet  error
	failPut  error
}

type storeCall struct {
	actorType string
	systemID  string
	events    []ir.Message
}

func newMemManager(router Router) *memManager {
	return &memManager{
		router:   router,
		applier:  NewApplier(NewSequenceGenerator("unused"), fixedNow),
		ids:      NewSequenceGenerator("sys"),
		systemID: map[string]string{},
		logs:     map[string][]ir.Message{},
	}
}

func (m *memManager) SystemID(_ context.Context, actorType, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := actorType + "/" + id
	sys, ok := m.systemID[key]
	if !ok {
		sys = m.ids.Generate()
		m.systemID[key] = sys
	}
	return sys, nil
}

func (m *memManager) GetOrCreate(ctx context.Context, actorType, id string, _ bool) (*actor.Instance, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	def, ok := m.router.Definition(actorType)
	if !ok {
		return nil, fmt.Errorf("no definition for %s", actorType)
	}
	sys, _ := m.SystemID(ctx, actorType, id)

	inst := actor.NewInstance(def, def.NewState(id))
	inst.State[ir.FieldSystemID] = sys

	m.mu.Lock()
	events := append([]ir.Message(nil), m.logs[sys]...)
	m.mu.Unlock()
	for _, evt := range events {
		if err := m.applier.Fold(inst, evt); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

func (m *memManager) StoreEvents(_ context.Context, actorType, systemID string, events []ir.Message) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[systemID] = append(m.logs[systemID], events...)
	m.stores = append(m.stores, storeCall{actorType: actorType, systemID: systemID, events: events})
	return nil
}

// stubRouter routes topics to types that may lack definitions.
type stubRouter struct {
	routes map[string][]string
	defs   map[string]*actor.Definition
}

func (r stubRouter) Route(topic string) []string { return r.routes[topic] }

func (r stubRouter) Definition(t string) (*actor.Definition, bool) {
	def, ok := r.defs[t]
	return def, ok
}

// recordingIndexer captures search updates.
type recordingIndexer struct {
	mu      sync.Mutex
	updates []indexUpdate
	err     error
}

type indexUpdate struct {
	actorType string
	actorID   string
	fields    []string
	updated   ir.Record
	original  ir.Record
}

func (ix *recordingIndexer) Update(_ context.Context, actorType, actorID string, fields []string, updated, original ir.Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.updates = append(ix.updates, indexUpdate{actorType, actorID, fields, updated, original})
	return ix.err
}

func (ix *recordingIndexer) Updates() []indexUpdate {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return append([]indexUpdate(nil), ix.updates...)
}

// spyExecutor records the keys it was asked to serialize.
type spyExecutor struct {
	keys []string
}

func (s *spyExecutor) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	s.keys = append(s.keys, key)
	return fn(ctx)
}
