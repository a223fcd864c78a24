// Package compiler turns CUE actor manifests into actor definitions.
//
// A manifest declares an actor type's configuration and its handler
// tables by action name; Bind attaches the Go functions registered under
// those names. Handler entries may be written three ways and are
// normalized here, once, at load time:
//
//	commands: open: "open"                                // bare action
//	commands: deposit: {action: "deposit", guard: "open"} // one handler
//	commands: withdraw: [                                 // handler list
//		{action: "withdraw", guard: {predicate: "covered"}, exclusive: true},
//		{action: "overdraw", exclusive: true},
//	]
//
// A string guard matches the lifecycle field "state"; an object guard
// names a registered predicate.
package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/evactor/internal/ir"
)

// Manifest is the compiled, unbound form of one actor type.
type Manifest struct {
	Type           string
	Description    string
	Identity       string
	EventThreshold int
	AggregateFrom  []string
	SearchFields   []string
	StoreEventPack bool
	SnapshotOnRead bool
	Initial        ir.Record

	// Commands and Events map a topic (as written, possibly unqualified)
	// to its ordered handlers.
	Commands map[string][]HandlerSpec
	Events   map[string][]HandlerSpec

	// Pos is the manifest's source position.
	Pos token.Pos
}

// HandlerSpec is one normalized handler entry.
type HandlerSpec struct {
	Action    string
	Guard     GuardSpec
	Exclusive bool
	Pos       token.Pos
}

// GuardSpec selects a guard. Both fields empty means always.
type GuardSpec struct {
	State     string
	Predicate string
}

// CompileManifest parses a CUE value into a Manifest. The value is the
// actor struct itself; its label is the actor type:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`actor: account: { ... }`)
//	m, err := CompileManifest(v.LookupPath(cue.ParsePath("actor.account")))
func CompileManifest(v cue.Value) (*Manifest, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &Manifest{
		Commands: map[string][]HandlerSpec{},
		Events:   map[string][]HandlerSpec{},
		Pos:      v.Pos(),
	}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		m.Type = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	var err error
	if m.Description, err = optionalString(v, "description"); err != nil {
		return nil, err
	}
	if m.Identity, err = optionalString(v, "identity"); err != nil {
		return nil, err
	}
	if m.AggregateFrom, err = optionalStrings(v, "aggregateFrom"); err != nil {
		return nil, err
	}
	if m.SearchFields, err = optionalStrings(v, "searchFields"); err != nil {
		return nil, err
	}
	if m.StoreEventPack, err = optionalBool(v, "storeEventPack"); err != nil {
		return nil, err
	}
	if m.SnapshotOnRead, err = optionalBool(v, "snapshotOnRead"); err != nil {
		return nil, err
	}

	if tv := v.LookupPath(cue.ParsePath("eventThreshold")); tv.Exists() {
		n, err := tv.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if n < 1 {
			return nil, &CompileError{Field: "eventThreshold", Message: "must be positive", Pos: tv.Pos()}
		}
		m.EventThreshold = int(n)
	}

	if iv := v.LookupPath(cue.ParsePath("initial")); iv.Exists() {
		if iv.IncompleteKind() != cue.StructKind {
			return nil, &CompileError{Field: "initial", Message: "must be an object", Pos: iv.Pos()}
		}
		data, err := iv.MarshalJSON()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if m.Initial, err = ir.DecodeRecord(data); err != nil {
			return nil, &CompileError{Field: "initial", Message: err.Error(), Pos: iv.Pos()}
		}
	}

	if m.Commands, err = parseTable(v, "commands"); err != nil {
		return nil, err
	}
	if m.Events, err = parseTable(v, "events"); err != nil {
		return nil, err
	}
	if len(m.Commands) == 0 && len(m.Events) == 0 {
		return nil, &CompileError{
			Field:   "commands",
			Message: "at least one command or event handler is required",
			Pos:     v.Pos(),
		}
	}
	return m, nil
}

// parseTable reads a topic -> handlers table.
func parseTable(v cue.Value, field string) (map[string][]HandlerSpec, error) {
	table := map[string][]HandlerSpec{}
	tv := v.LookupPath(cue.ParsePath(field))
	if !tv.Exists() {
		return table, nil
	}

	iter, err := tv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		topic := strings.Trim(iter.Label(), `"`)
		handlers, err := parseHandlers(iter.Value(), field+"."+topic)
		if err != nil {
			return nil, err
		}
		table[topic] = handlers
	}
	return table, nil
}

// parseHandlers normalizes a bare action name, a handler object or a list
// of either into a handler list.
func parseHandlers(v cue.Value, field string) ([]HandlerSpec, error) {
	switch v.IncompleteKind() {
	case cue.StringKind, cue.StructKind:
		h, err := parseHandler(v, field)
		if err != nil {
			return nil, err
		}
		return []HandlerSpec{h}, nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var out []HandlerSpec
		for i := 0; iter.Next(); i++ {
			h, err := parseHandler(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			out = append(out, h)
		}
		if len(out) == 0 {
			return nil, &CompileError{Field: field, Message: "handler list is empty", Pos: v.Pos()}
		}
		return out, nil

	default:
		return nil, &CompileError{
			Field:   field,
			Message: "handler must be an action name, an object or a list",
			Pos:     v.Pos(),
		}
	}
}

func parseHandler(v cue.Value, field string) (HandlerSpec, error) {
	h := HandlerSpec{Pos: v.Pos()}

	if name, err := v.String(); err == nil {
		h.Action = name
		return h, nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return h, &CompileError{Field: field, Message: "handler must be an action name or an object", Pos: v.Pos()}
	}

	av := v.LookupPath(cue.ParsePath("action"))
	if !av.Exists() {
		return h, &CompileError{Field: field + ".action", Message: "action is required", Pos: v.Pos()}
	}
	action, err := av.String()
	if err != nil {
		return h, formatCUEError(err)
	}
	h.Action = action

	if h.Exclusive, err = optionalBool(v, "exclusive"); err != nil {
		return h, err
	}

	gv := v.LookupPath(cue.ParsePath("guard"))
	if !gv.Exists() {
		return h, nil
	}
	if s, err := gv.String(); err == nil {
		h.Guard.State = s
		return h, nil
	}
	if h.Guard.State, err = optionalString(gv, "state"); err != nil {
		return h, err
	}
	if h.Guard.Predicate, err = optionalString(gv, "predicate"); err != nil {
		return h, err
	}
	if h.Guard.State != "" && h.Guard.Predicate != "" {
		return h, &CompileError{Field: field + ".guard", Message: "guard takes a state or a predicate, not both", Pos: gv.Pos()}
	}
	return h, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optionalStrings(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// First error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
