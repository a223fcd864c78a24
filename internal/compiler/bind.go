package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/ir"
)

// Actions holds the Go functions a manifest's action and predicate names
// resolve to.
type Actions struct {
	Commands   map[string]actor.Decide
	Events     map[string]actor.Evolve
	Predicates map[string]actor.Predicate
}

// Merge returns the union of a and other; other wins on name clashes.
func (a Actions) Merge(other Actions) Actions {
	out := Actions{
		Commands:   make(map[string]actor.Decide, len(a.Commands)+len(other.Commands)),
		Events:     make(map[string]actor.Evolve, len(a.Events)+len(other.Events)),
		Predicates: make(map[string]actor.Predicate, len(a.Predicates)+len(other.Predicates)),
	}
	for _, src := range []Actions{a, other} {
		for k, v := range src.Commands {
			out.Commands[k] = v
		}
		for k, v := range src.Events {
			out.Events[k] = v
		}
		for k, v := range src.Predicates {
			out.Predicates[k] = v
		}
	}
	return out
}

// Bind builds the actor definition of m, resolving every action and
// predicate name through acts. All unresolved names are reported together.
func Bind(m *Manifest, acts Actions) (*actor.Definition, error) {
	if errs := ValidateManifest(m); len(errs) > 0 {
		return nil, errs
	}

	def := actor.New(m.Type)
	def.IdentityField = m.Identity
	def.EventThreshold = m.EventThreshold
	def.AggregateFrom = append([]string(nil), m.AggregateFrom...)
	def.SearchFields = append([]string(nil), m.SearchFields...)
	def.StoreEventPack = m.StoreEventPack
	def.SnapshotOnRead = m.SnapshotOnRead
	if m.Initial != nil {
		initial := m.Initial
		def.Initial = func() ir.Record { return initial.Clone() }
	}

	var errs ValidationErrors
	for _, topic := range sortedTopics(m.Commands) {
		for i, h := range m.Commands[topic] {
			field := fmt.Sprintf("commands.%s[%d]", topic, i)
			decide, ok := acts.Commands[h.Action]
			if !ok {
				errs = append(errs, unresolved(field, "command action", h.Action))
				continue
			}
			opts, err := handlerOptions(h, acts, field)
			if err != nil {
				errs = append(errs, *err)
				continue
			}
			def.Command(topic, decide, opts...)
		}
	}
	for _, topic := range sortedTopics(m.Events) {
		for i, h := range m.Events[topic] {
			field := fmt.Sprintf("events.%s[%d]", topic, i)
			evolve, ok := acts.Events[h.Action]
			if !ok {
				errs = append(errs, unresolved(field, "event action", h.Action))
				continue
			}
			opts, err := handlerOptions(h, acts, field)
			if err != nil {
				errs = append(errs, *err)
				continue
			}
			def.Event(topic, evolve, opts...)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("bind %s: %w", m.Type, err)
	}
	return def, nil
}

func handlerOptions(h HandlerSpec, acts Actions, field string) ([]actor.HandlerOption, *ValidationError) {
	var opts []actor.HandlerOption
	switch {
	case h.Guard.Predicate != "":
		p, ok := acts.Predicates[h.Guard.Predicate]
		if !ok {
			err := unresolved(field+".guard", "predicate", h.Guard.Predicate)
			return nil, &err
		}
		opts = append(opts, actor.Guarded(actor.When(p)))
	case h.Guard.State != "":
		opts = append(opts, actor.Guarded(actor.InState(h.Guard.State)))
	}
	if h.Exclusive {
		opts = append(opts, actor.Exclusive())
	}
	return opts, nil
}

func unresolved(field, kind, name string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("unknown %s %q", kind, name),
		Code:    ErrUnknownAction,
	}
}

// CompileSource compiles every manifest under the top-level "actor" struct
// of a CUE source. filename is used in error positions.
func CompileSource(filename string, src []byte) ([]*Manifest, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileValue(v)
}

// CompileValue compiles every manifest under the "actor" struct of v, in
// source order.
func CompileValue(v cue.Value) ([]*Manifest, error) {
	av := v.LookupPath(cue.ParsePath("actor"))
	if !av.Exists() {
		return nil, &CompileError{Field: "actor", Message: "no actor manifests found", Pos: v.Pos()}
	}
	iter, err := av.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []*Manifest
	for iter.Next() {
		m, err := CompileManifest(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Definitions compiles src and binds every manifest in it.
func Definitions(filename string, src []byte, acts Actions) ([]*actor.Definition, error) {
	manifests, err := CompileSource(filename, src)
	if err != nil {
		return nil, err
	}
	if errs := ValidateSet(manifests, nil); len(errs) > 0 {
		return nil, errs
	}
	defs := make([]*actor.Definition, 0, len(manifests))
	for _, m := range manifests {
		def, err := Bind(m, acts)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
