package actor

import "github.com/roach88/evactor/internal/ir"

// Instance is a materialized actor: a definition and the state folded so
// far. It is owned by one in-flight operation at a time.
type Instance struct {
	Def   *Definition
	State ir.Record

	// EventsRead counts events applied by read-only fetches that skipped a
	// snapshot. It lives only as long as the instance.
	EventsRead int
}

// NewInstance wraps state for def.
func NewInstance(def *Definition, state ir.Record) *Instance {
	if state == nil {
		state = ir.Record{}
	}
	return &Instance{Def: def, State: state}
}

// Clone returns an instance with a deep copy of the state.
func (i *Instance) Clone() *Instance {
	return &Instance{Def: i.Def, State: i.State.Clone(), EventsRead: i.EventsRead}
}

// Type returns the actor type name.
func (i *Instance) Type() string { return i.Def.Type }

// ID returns the natural id.
func (i *Instance) ID() string { return i.State.String(i.Def.Identity()) }

// SystemID returns the durable system id.
func (i *Instance) SystemID() string { return i.State.String(ir.FieldSystemID) }

// LastEventID returns the own-type event high-water mark.
func (i *Instance) LastEventID() string { return i.State.String(ir.FieldLastEventID) }

// RelatedLastEventID returns the watermark recorded for an aggregated source.
func (i *Instance) RelatedLastEventID(source string) string {
	return i.State.String(ir.FieldRelated + "." + source + "." + ir.FieldLastEventID)
}
