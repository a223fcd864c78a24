package actor

import (
	"fmt"
	"strings"

	"github.com/roach88/evactor/internal/ir"
)

// Defaults applied to zero-valued Definition fields.
const (
	DefaultIdentityField  = "id"
	DefaultEventThreshold = 50
)

// Kind distinguishes command topics from event topics.
type Kind int

const (
	KindCommand Kind = iota
	KindEvent
)

func (k Kind) String() string {
	if k == KindCommand {
		return "command"
	}
	return "event"
}

// Table maps fully-qualified topics to their ordered handler lists.
type Table map[string][]Handler

// Definition describes an actor type. It is immutable once registered.
type Definition struct {
	Type string

	// IdentityField names the natural-id field in state. Default "id".
	IdentityField string

	// EventThreshold is the number of events applied in one read before a
	// snapshot is stored. Default 50.
	EventThreshold int

	// AggregateFrom lists source actor types whose events are folded into
	// this type's state.
	AggregateFrom []string

	// SearchFields lists dotted state paths maintained in the search index.
	SearchFields []string

	// StoreEventPack retains the events folded into each snapshot.
	StoreEventPack bool

	// SnapshotOnRead allows read-only fetches to store snapshots.
	SnapshotOnRead bool

	// Initial returns domain defaults for a fresh instance. Optional.
	Initial func() ir.Record

	Commands Table
	Events   Table
}

// New returns an empty definition for actorType.
func New(actorType string) *Definition {
	return &Definition{
		Type:     actorType,
		Commands: Table{},
		Events:   Table{},
	}
}

// Command registers a command handler. name is qualified with the
// definition's type unless it already carries one.
func (d *Definition) Command(name string, decide Decide, opts ...HandlerOption) *Definition {
	d.add(KindCommand, name, Handler{Decide: decide}, opts)
	return d
}

// Event registers an event handler. Events of other types ("vehicle.moved")
// may be handled by naming them fully.
func (d *Definition) Event(name string, evolve Evolve, opts ...HandlerOption) *Definition {
	d.add(KindEvent, name, Handler{Evolve: evolve}, opts)
	return d
}

func (d *Definition) add(kind Kind, name string, h Handler, opts []HandlerOption) {
	topic := ir.Qualify(d.Type, name)
	h.Topic, _ = ir.ParseTopic(topic)
	h.Guard = Always()
	for _, opt := range opts {
		opt(&h)
	}
	if d.Commands == nil {
		d.Commands = Table{}
	}
	if d.Events == nil {
		d.Events = Table{}
	}
	table := d.Commands
	if kind == KindEvent {
		table = d.Events
	}
	table[topic] = append(table[topic], h)
}

// Identity returns the natural-id field name.
func (d *Definition) Identity() string {
	if d.IdentityField == "" {
		return DefaultIdentityField
	}
	return d.IdentityField
}

// Threshold returns the snapshot threshold.
func (d *Definition) Threshold() int {
	if d.EventThreshold <= 0 {
		return DefaultEventThreshold
	}
	return d.EventThreshold
}

// Handlers returns the handler list for topic and whether it is a command
// or an event. Membership in the command table decides.
func (d *Definition) Handlers(topic string) ([]Handler, Kind, bool) {
	if hs, ok := d.Commands[topic]; ok {
		return hs, KindCommand, true
	}
	if hs, ok := d.Events[topic]; ok {
		return hs, KindEvent, true
	}
	return nil, KindEvent, false
}

// Topics returns every topic the definition subscribes to.
func (d *Definition) Topics() []string {
	topics := make([]string, 0, len(d.Commands)+len(d.Events))
	for t := range d.Commands {
		topics = append(topics, t)
	}
	for t := range d.Events {
		topics = append(topics, t)
	}
	return topics
}

// NewState returns a fresh state for a natural id.
func (d *Definition) NewState(id string) ir.Record {
	state := ir.Record{}
	if d.Initial != nil {
		state = d.Initial()
		if state == nil {
			state = ir.Record{}
		}
	}
	state[d.Identity()] = id
	return state
}

// Validate checks that the definition is well formed.
func (d *Definition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("actor type is required")
	}
	if strings.Contains(d.Type, ".") {
		return fmt.Errorf("actor type %q must not contain '.'", d.Type)
	}
	if ir.IsReserved(d.Identity()) {
		return fmt.Errorf("actor %q: identity field %q is reserved", d.Type, d.Identity())
	}
	for _, src := range d.AggregateFrom {
		if src == d.Type {
			return fmt.Errorf("actor %q cannot aggregate from itself", d.Type)
		}
	}
	for topic, hs := range d.Commands {
		if _, dup := d.Events[topic]; dup {
			return fmt.Errorf("actor %q: topic %q is both a command and an event", d.Type, topic)
		}
		for i, h := range hs {
			if h.Topic.String() != topic {
				return fmt.Errorf("actor %q: invalid command topic %q", d.Type, topic)
			}
			if h.Decide == nil {
				return fmt.Errorf("actor %q: command %q handler %d has no action", d.Type, topic, i)
			}
			if err := validateGuard(h.Guard); err != nil {
				return fmt.Errorf("actor %q: command %q handler %d: %w", d.Type, topic, i, err)
			}
		}
	}
	for topic, hs := range d.Events {
		for i, h := range hs {
			if h.Topic.String() != topic {
				return fmt.Errorf("actor %q: invalid event topic %q", d.Type, topic)
			}
			if h.Evolve == nil {
				return fmt.Errorf("actor %q: event %q handler %d has no action", d.Type, topic, i)
			}
			if err := validateGuard(h.Guard); err != nil {
				return fmt.Errorf("actor %q: event %q handler %d: %w", d.Type, topic, i, err)
			}
		}
	}
	return nil
}

func validateGuard(g Guard) error {
	switch g.Kind {
	case GuardAlways:
		return nil
	case GuardState:
		if g.State == "" {
			return fmt.Errorf("state guard needs a state value")
		}
		return nil
	case GuardPredicate:
		if g.Predicate == nil {
			return fmt.Errorf("predicate guard needs a function")
		}
		return nil
	default:
		return fmt.Errorf("unknown guard kind %d", g.Kind)
	}
}
