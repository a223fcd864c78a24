package actor

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Registry holds loaded definitions and the topic -> types routing table
// built from their handler tables at registration.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	order  []string
	routes map[string][]string
}

// NewRegistry returns a registry holding defs.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{
		defs:   make(map[string]*Definition),
		routes: make(map[string][]string),
	}
	if err := r.Register(defs...); err != nil {
		return nil, err
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
// Use only in tests.
func MustRegistry(defs ...*Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register validates and adds definitions. Registering a type twice is an
// error.
func (r *Registry) Register(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if def == nil {
			return fmt.Errorf("nil actor definition")
		}
		if err := def.Validate(); err != nil {
			return err
		}
		if _, dup := r.defs[def.Type]; dup {
			return fmt.Errorf("actor %q already registered", def.Type)
		}
		r.defs[def.Type] = def
		r.order = append(r.order, def.Type)

		topics := def.Topics()
		sort.Strings(topics)
		for _, topic := range topics {
			r.routes[topic] = append(r.routes[topic], def.Type)
		}
	}
	return nil
}

// Route returns the actor types subscribed to topic in registration order.
func (r *Registry) Route(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.routes[topic])
}

// Definition returns the registered definition for actorType.
func (r *Registry) Definition(actorType string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[actorType]
	return def, ok
}

// Topics returns every routed topic, sorted.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.routes))
	for t := range r.routes {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Types returns registered actor types in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}
