package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/vclock"
)

// Fetch returns the head snapshots of systemID, newest version first.
// Returns an empty slice (not nil) for an unknown actor.
func (s *Store) Fetch(ctx context.Context, systemID string) ([]ir.Record, error) {
	return s.querySnapshots(ctx, `
		SELECT state FROM snapshots
		WHERE system_id = ? AND head = 1
		ORDER BY version DESC, snapshot_id COLLATE BINARY ASC
	`, systemID)
}

// Store persists a snapshot. The new snapshot supersedes its ancestor and
// every head whose last event it has already folded, so a resolved fork
// stops reporting its siblings.
// Uses ON CONFLICT DO NOTHING for idempotency - re-storing a snapshot id is a no-op.
func (s *Store) Store(ctx context.Context, systemID, vector string, state ir.Record) error {
	version, err := vclock.ToVersion(vector)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	body, err := marshalState(state)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	snapshotID := state.String(ir.FieldSnapshotID)
	if snapshotID == "" {
		snapshotID = systemID + "@" + vector
	}
	ancestor := state.String(ir.FieldAncestor)
	lastEventID := state.String(ir.FieldLastEventID)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE snapshots SET head = 0
			WHERE system_id = ? AND head = 1 AND snapshot_id != ?
			  AND ((? != '' AND vector = ?) OR last_event_id COLLATE BINARY <= ?)
		`, systemID, snapshotID, ancestor, ancestor, lastEventID); err != nil {
			return fmt.Errorf("store snapshot: supersede: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots
			(snapshot_id, system_id, vector, version, ancestor, last_event_id, last_event_applied_on, state, created_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(snapshot_id) DO NOTHING
		`,
			snapshotID,
			systemID,
			vector,
			version,
			ancestor,
			lastEventID,
			unixNanos(state.Time(ir.FieldLastEventAppliedOn)),
			body,
			s.now().UTC().UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("store snapshot: %w", err)
		}
		return nil
	})
}

// FetchByLastEventID returns the newest snapshot of systemID that folded
// no event past lastEventID.
// Returns adapter.ErrNotFound when no snapshot qualifies.
func (s *Store) FetchByLastEventID(ctx context.Context, systemID, lastEventID string) (ir.Record, error) {
	return s.querySnapshot(ctx, `
		SELECT state FROM snapshots
		WHERE system_id = ? AND last_event_id COLLATE BINARY <= ?
		ORDER BY last_event_id COLLATE BINARY DESC, version DESC, snapshot_id COLLATE BINARY ASC
		LIMIT 1
	`, systemID, lastEventID)
}

// FetchByLastEventDate returns the newest snapshot of systemID whose last
// event was applied at or before at.
// Returns adapter.ErrNotFound when no snapshot qualifies.
func (s *Store) FetchByLastEventDate(ctx context.Context, systemID string, at time.Time) (ir.Record, error) {
	return s.querySnapshot(ctx, `
		SELECT state FROM snapshots
		WHERE system_id = ? AND last_event_applied_on <= ?
		ORDER BY last_event_applied_on DESC, last_event_id COLLATE BINARY DESC, snapshot_id COLLATE BINARY ASC
		LIMIT 1
	`, systemID, unixNanos(at))
}

// FindAncestor returns the snapshots at the lowest-version ancestor of
// candidates, walking further back past snapshots listed in excluded.
// Returns nil when the lineage runs out.
func (s *Store) FindAncestor(ctx context.Context, systemID string, candidates []ir.Record, excluded []string) ([]ir.Record, error) {
	target := lowestAncestor(candidates)
	seen := map[string]bool{}

	for target != "" && !seen[target] {
		seen[target] = true

		rows, err := s.db.QueryContext(ctx, `
			SELECT snapshot_id, ancestor, state FROM snapshots
			WHERE system_id = ? AND vector = ?
			ORDER BY snapshot_id COLLATE BINARY ASC
		`, systemID, target)
		if err != nil {
			return nil, fmt.Errorf("find ancestor: %w", err)
		}

		var found []ir.Record
		var next []string
		for rows.Next() {
			var id, ancestor, body string
			if err := rows.Scan(&id, &ancestor, &body); err != nil {
				rows.Close()
				return nil, fmt.Errorf("find ancestor: scan: %w", err)
			}
			if slices.Contains(excluded, id) {
				next = append(next, ancestor)
				continue
			}
			state, err := unmarshalState(body)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("find ancestor: %w", err)
			}
			found = append(found, state)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("find ancestor: iterate: %w", err)
		}

		if len(found) > 0 {
			return found, nil
		}
		target = lowestVector(next)
	}
	return nil, nil
}

// lowestAncestor returns the candidates' _ancestor with the lowest
// version, "" when any candidate has no ancestor.
func lowestAncestor(candidates []ir.Record) string {
	ancestors := make([]string, 0, len(candidates))
	for _, c := range candidates {
		a := c.String(ir.FieldAncestor)
		if a == "" {
			return ""
		}
		ancestors = append(ancestors, a)
	}
	return lowestVector(ancestors)
}

// lowestVector returns the vector with the lowest version. Ties break on
// the lexically smallest string.
func lowestVector(vectors []string) string {
	best, bestVersion := "", int64(-1)
	for _, v := range vectors {
		if v == "" {
			return ""
		}
		version, err := vclock.ToVersion(v)
		if err != nil {
			continue
		}
		if bestVersion < 0 || version < bestVersion || (version == bestVersion && strings.Compare(v, best) < 0) {
			best, bestVersion = v, version
		}
	}
	return best
}

// GetSystemID returns the system id mapped to (actorType, actorID), or ""
// when none is recorded.
func (s *Store) GetSystemID(ctx context.Context, actorType, actorID string) (string, error) {
	var systemID string
	err := s.db.QueryRowContext(ctx, `
		SELECT system_id FROM actor_ids WHERE actor_type = ? AND actor_id = ?
	`, actorType, actorID).Scan(&systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get system id: %w", err)
	}
	return systemID, nil
}

// GetActorID returns the natural id mapped to (actorType, systemID), or ""
// when none is recorded.
func (s *Store) GetActorID(ctx context.Context, actorType, systemID string) (string, error) {
	var actorID string
	err := s.db.QueryRowContext(ctx, `
		SELECT actor_id FROM actor_ids WHERE actor_type = ? AND system_id = ?
	`, actorType, systemID).Scan(&actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get actor id: %w", err)
	}
	return actorID, nil
}

// MapIDs records actorID <-> systemID for actorType. Re-recording the same
// pair is a no-op; mapping an id that is already mapped elsewhere fails.
func (s *Store) MapIDs(ctx context.Context, actorType, systemID, actorID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO actor_ids (actor_type, actor_id, system_id)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, actorType, actorID, systemID); err != nil {
			return fmt.Errorf("map ids: %w", err)
		}

		var mapped string
		if err := tx.QueryRowContext(ctx, `
			SELECT system_id FROM actor_ids WHERE actor_type = ? AND actor_id = ?
		`, actorType, actorID).Scan(&mapped); err != nil {
			return fmt.Errorf("map ids: %w", err)
		}
		if mapped != systemID {
			return fmt.Errorf("map ids: %s %q already mapped to %s", actorType, actorID, mapped)
		}
		return nil
	})
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	states := []ir.Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		state, err := unmarshalState(body)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return states, nil
}

func (s *Store) querySnapshot(ctx context.Context, query string, args ...any) (ir.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapter.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return unmarshalState(body)
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
