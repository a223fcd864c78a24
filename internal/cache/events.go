package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
)

// GetEventsFor returns the cached events of systemID after afterID. It
// answers only when the cached log holds afterID itself; otherwise, and
// always for a full-history read, it returns adapter.ErrNotFound.
func (c *Cache) GetEventsFor(ctx context.Context, systemID, afterID string) ([]ir.Message, error) {
	if afterID == "" {
		return nil, adapter.ErrNotFound
	}
	val, err := c.get(ctx, logKey(systemID))
	if err != nil {
		return nil, fmt.Errorf("cache events %s: %w", systemID, err)
	}
	if val == nil {
		return nil, adapter.ErrNotFound
	}
	log, err := decodeLog(val)
	if err != nil {
		return nil, fmt.Errorf("cache events %s: %w", systemID, err)
	}

	idx := slices.IndexFunc(log, func(m ir.Message) bool { return m.ID == afterID })
	if idx < 0 {
		return nil, adapter.ErrNotFound
	}
	return log[idx+1:], nil
}

// StoreEvents merges events into the cached log of systemID. A failed
// merge drops the cached log so a later read cannot skip the lost events.
func (c *Cache) StoreEvents(ctx context.Context, systemID string, events []ir.Message) error {
	if len(events) == 0 {
		return nil
	}
	key := logKey(systemID)

	err := c.update(ctx, func(txn *badger.Txn) error {
		var log []ir.Message
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			cur, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if log, err = decodeLog(cur); err != nil {
				return err
			}
		}

		log = mergeLog(log, events)
		val, err := json.Marshal(log)
		if err != nil {
			return err
		}
		return txn.SetEntry(c.entry(key, val))
	})
	if err == nil {
		return nil
	}

	if derr := c.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); derr != nil {
		c.logger.Warn("cache log invalidation failed", "system_id", systemID, "error", derr)
	}
	return fmt.Errorf("cache store events %s: %w", systemID, err)
}

// mergeLog adds events to log, dropping duplicate ids and keeping id order.
func mergeLog(log, events []ir.Message) []ir.Message {
	seen := make(map[string]bool, len(log)+len(events))
	out := make([]ir.Message, 0, len(log)+len(events))
	for _, evt := range slices.Concat(log, events) {
		if seen[evt.ID] {
			continue
		}
		seen[evt.ID] = true
		out = append(out, evt)
	}
	ir.SortByID(out)
	return out
}

func decodeLog(val []byte) ([]ir.Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(val, &raw); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	log := make([]ir.Message, 0, len(raw))
	for _, r := range raw {
		evt, err := ir.DecodeMessage(r)
		if err != nil {
			return nil, err
		}
		log = append(log, evt)
	}
	return log, nil
}

// wirePack is adapter.EventPack with undecoded events.
type wirePack struct {
	ID         string            `json:"id"`
	SystemID   string            `json:"system_id"`
	SnapshotID string            `json:"snapshot_id"`
	Events     []json.RawMessage `json:"events"`
	CreatedOn  time.Time         `json:"created_on"`
}

// GetEventPackFor returns the cached pack of snapshotID.
// Returns adapter.ErrNotFound when it is not cached.
func (c *Cache) GetEventPackFor(ctx context.Context, systemID, snapshotID string) (*adapter.EventPack, error) {
	val, err := c.get(ctx, packKey(systemID, snapshotID))
	if err != nil {
		return nil, fmt.Errorf("cache event pack: %w", err)
	}
	if val == nil {
		return nil, adapter.ErrNotFound
	}

	var w wirePack
	if err := json.Unmarshal(val, &w); err != nil {
		return nil, fmt.Errorf("cache event pack: %w", err)
	}
	pack := &adapter.EventPack{
		ID:         w.ID,
		SystemID:   w.SystemID,
		SnapshotID: w.SnapshotID,
		Events:     make([]ir.Message, 0, len(w.Events)),
		CreatedOn:  w.CreatedOn,
	}
	for _, r := range w.Events {
		evt, err := ir.DecodeMessage(r)
		if err != nil {
			return nil, fmt.Errorf("cache event pack: %w", err)
		}
		pack.Events = append(pack.Events, evt)
	}
	return pack, nil
}

// StoreEventPack caches pack.
func (c *Cache) StoreEventPack(ctx context.Context, pack adapter.EventPack) error {
	val, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("cache event pack: %w", err)
	}
	err = c.update(ctx, func(txn *badger.Txn) error {
		return txn.SetEntry(c.entry(packKey(pack.SystemID, pack.SnapshotID), val))
	})
	if err != nil {
		return fmt.Errorf("cache event pack: %w", err)
	}
	return nil
}
