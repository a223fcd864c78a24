package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/evactor/internal/ir"
)

// Fetch returns the cached snapshot of systemID: none or one.
func (c *Cache) Fetch(ctx context.Context, systemID string) ([]ir.Record, error) {
	val, err := c.get(ctx, snapshotKey(systemID))
	if err != nil {
		return nil, fmt.Errorf("cache fetch %s: %w", systemID, err)
	}
	if val == nil {
		return nil, nil
	}
	state, err := ir.DecodeRecord(val)
	if err != nil {
		return nil, fmt.Errorf("cache fetch %s: %w", systemID, err)
	}
	return []ir.Record{state}, nil
}

// Store caches state as the snapshot of systemID unless the cached
// snapshot has already folded further.
func (c *Cache) Store(ctx context.Context, systemID, vector string, state ir.Record) error {
	val, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("cache store %s: %w", systemID, err)
	}
	key := snapshotKey(systemID)
	lastEventID := state.String(ir.FieldLastEventID)

	err = c.update(ctx, func(txn *badger.Txn) error {
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
			cached, err := ir.DecodeRecord(cur)
			if err != nil {
				return err
			}
			if cached.String(ir.FieldLastEventID) > lastEventID {
				return nil
			}
		}
		return txn.SetEntry(c.entry(key, val))
	})
	if err != nil {
		return fmt.Errorf("cache store %s at %s: %w", systemID, vector, err)
	}
	return nil
}

// GetSystemID returns the cached system id of (actorType, actorID), or ""
// when not cached.
func (c *Cache) GetSystemID(ctx context.Context, actorType, actorID string) (string, error) {
	val, err := c.get(ctx, systemIDKey(actorType, actorID))
	if err != nil {
		return "", fmt.Errorf("cache get system id: %w", err)
	}
	return string(val), nil
}

// GetActorID returns the cached natural id of (actorType, systemID), or ""
// when not cached.
func (c *Cache) GetActorID(ctx context.Context, actorType, systemID string) (string, error) {
	val, err := c.get(ctx, actorIDKey(actorType, systemID))
	if err != nil {
		return "", fmt.Errorf("cache get actor id: %w", err)
	}
	return string(val), nil
}

// MapIDs caches both directions of the mapping.
func (c *Cache) MapIDs(ctx context.Context, actorType, systemID, actorID string) error {
	err := c.update(ctx, func(txn *badger.Txn) error {
		if err := txn.SetEntry(c.entry(systemIDKey(actorType, actorID), []byte(systemID))); err != nil {
			return err
		}
		return txn.SetEntry(c.entry(actorIDKey(actorType, systemID), []byte(actorID)))
	})
	if err != nil {
		return fmt.Errorf("cache map ids: %w", err)
	}
	return nil
}
