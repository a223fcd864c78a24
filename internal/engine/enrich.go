package engine

import (
	"context"
	"fmt"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/ir"
)

// eventGroup is a batch of events for one owning actor log.
type eventGroup struct {
	actorType string
	actorID   string
	events    []ir.Message
}

// enrich stamps identity and causal metadata on the events of res and
// returns them grouped by owning (actor type, system id), in first-seen
// order.
func (d *Dispatcher) enrich(ctx context.Context, inst *actor.Instance, res *Result) ([]eventGroup, error) {
	var groups []eventGroup
	index := make(map[[2]string]int)

	for i := range res.Events {
		evt := &res.Events[i]
		if evt.ID == "" {
			evt.ID = d.ids.Generate()
		}
		if evt.CreatedOn.IsZero() {
			evt.CreatedOn = d.now().UTC()
		}

		owner := evt.Owner()
		if owner == inst.Type() {
			evt.ActorType = inst.Type()
			evt.ActorID = inst.SystemID()
		} else {
			id, err := d.resolveOwner(ctx, owner, evt)
			if err != nil {
				return nil, NewEnrichError(inst.Type(), evt.Type, err)
			}
			evt.ActorType = owner
			evt.ActorID = id
		}

		evt.CreatedBy = inst.Type()
		evt.CreatedByID = inst.SystemID()
		evt.CreatedByVector = inst.State.String(ir.FieldVector)
		evt.CreatedByVersion = inst.State.Int(ir.FieldVersion)
		evt.InitiatedBy = res.Message.Type
		evt.InitiatedByID = res.Message.ID

		key := [2]string{evt.ActorType, evt.ActorID}
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, eventGroup{actorType: evt.ActorType, actorID: evt.ActorID})
		}
		groups[gi].events = append(groups[gi].events, *evt)
	}
	return groups, nil
}

// resolveOwner finds the system id of the actor owning a cross-type event
// through the payload sub-object named after the owner type. A system id
// under "_id" is used as-is; otherwise the owner's natural id is resolved.
func (d *Dispatcher) resolveOwner(ctx context.Context, owner string, evt *ir.Message) (string, error) {
	sub := evt.Data.Object(owner)
	if sub == nil {
		return "", fmt.Errorf("event %q has no %q payload object", evt.Type, owner)
	}
	if sys := sub.String(ir.FieldSystemID); sys != "" {
		return sys, nil
	}

	identity := actor.DefaultIdentityField
	if def, ok := d.router.Definition(owner); ok {
		identity = def.Identity()
	}
	natural := sub.String(identity)
	if natural == "" {
		return "", fmt.Errorf("event %q: %q payload has no %q", evt.Type, owner, identity)
	}
	return d.manager.SystemID(ctx, owner, natural)
}
