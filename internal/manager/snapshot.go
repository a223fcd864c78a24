package manager

import (
	"context"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/vclock"
)

// compact stores a new snapshot when enough events were folded. Failures
// are logged; the in-memory instance stays valid either way.
func (m *Manager) compact(ctx context.Context, inst *actor.Instance, folded []ir.Message, readOnly bool) {
	if len(folded) == 0 || len(folded) < inst.Def.Threshold() {
		return
	}
	if readOnly && !inst.Def.SnapshotOnRead {
		inst.EventsRead += len(folded)
		snapshotsTotal.WithLabelValues(inst.Type(), "skipped").Inc()
		return
	}
	m.snapshot(ctx, inst, folded)
}

func (m *Manager) snapshot(ctx context.Context, inst *actor.Instance, folded []ir.Message) {
	ctx, span := tracer.Start(ctx, "manager.Manager.snapshot")
	defer span.End()

	logger := m.logger.With("actor_type", inst.Type(), "actor_id", inst.ID())
	state := inst.State
	systemID := inst.SystemID()

	prev := state.String(ir.FieldVector)
	vector, version, err := vclock.Next(prev, m.node)
	if err != nil {
		snapshotsTotal.WithLabelValues(inst.Type(), "failed").Inc()
		logger.Warn("snapshot skipped: bad vector", "vector", prev, "error", err)
		return
	}

	saved := ir.Record{}
	for _, k := range []string{ir.FieldVector, ir.FieldVersion, ir.FieldSnapshotID, ir.FieldAncestor} {
		if v, ok := state[k]; ok {
			saved[k] = v
		}
	}

	snapshotID := m.ids.Generate()
	state[ir.FieldAncestor] = prev
	state[ir.FieldVector] = vector
	state[ir.FieldVersion] = version
	state[ir.FieldSnapshotID] = snapshotID

	if err := m.actorStore.Store(ctx, systemID, vector, state.Clone()); err != nil {
		// Restore the durable lineage.
		for _, k := range []string{ir.FieldVector, ir.FieldVersion, ir.FieldSnapshotID, ir.FieldAncestor} {
			if v, ok := saved[k]; ok {
				state[k] = v
			} else {
				delete(state, k)
			}
		}
		snapshotsTotal.WithLabelValues(inst.Type(), "failed").Inc()
		logger.Warn("snapshot store failed", "system_id", systemID, "error", err)
		return
	}
	snapshotsTotal.WithLabelValues(inst.Type(), "stored").Inc()
	logger.Debug("snapshot stored",
		"vector", vector,
		"snapshot_id", snapshotID,
		"events", len(folded),
	)

	if m.actorCache != nil {
		if err := m.actorCache.Store(ctx, systemID, vector, state.Clone()); err != nil {
			logger.Warn("actor cache store failed", "system_id", systemID, "error", err)
		}
	}

	if !inst.Def.StoreEventPack {
		return
	}
	packs, ok := m.eventStore.(adapter.PackStore)
	if !ok {
		logger.Warn("event pack skipped", "error", adapter.ErrUnsupported)
		return
	}
	packID, err := ir.PackID(systemID, snapshotID, ir.EventIDs(folded))
	if err != nil {
		logger.Warn("event pack skipped", "snapshot_id", snapshotID, "error", err)
		return
	}
	pack := adapter.EventPack{
		ID:         packID,
		SystemID:   systemID,
		SnapshotID: snapshotID,
		Events:     folded,
		CreatedOn:  m.now().UTC(),
	}
	if err := packs.StoreEventPack(ctx, pack); err != nil {
		logger.Warn("event pack store failed", "snapshot_id", snapshotID, "error", err)
		return
	}
	if cached, ok := m.eventCache.(adapter.PackStore); ok {
		if err := cached.StoreEventPack(ctx, pack); err != nil {
			logger.Warn("event cache pack store failed", "snapshot_id", snapshotID, "error", err)
		}
	}
}
