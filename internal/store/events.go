package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
)

// GetEventsFor returns the events of systemID with id greater than afterID
// (all events when afterID is empty).
// Results are ordered by id ASC COLLATE BINARY.
func (s *Store) GetEventsFor(ctx context.Context, systemID, afterID string) ([]ir.Message, error) {
	return s.queryEvents(ctx, `
		SELECT body FROM events
		WHERE system_id = ? AND id COLLATE BINARY > ?
		ORDER BY id COLLATE BINARY ASC
	`, systemID, afterID)
}

// StoreEvents appends events to the log of systemID in one transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) StoreEvents(ctx context.Context, systemID string, events []ir.Message) error {
	if len(events) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events
			(id, system_id, actor_type, type, initiated_by_id, created_by_id, created_on, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("store events: %w", err)
		}
		defer stmt.Close()

		for _, evt := range events {
			if evt.ID == "" {
				return fmt.Errorf("store events: event %s has no id", evt.Type)
			}
			body, err := marshalEvent(evt)
			if err != nil {
				return fmt.Errorf("store events: %w", err)
			}
			actorType := evt.ActorType
			if actorType == "" {
				actorType = evt.Owner()
			}
			if _, err := stmt.ExecContext(ctx,
				evt.ID,
				systemID,
				actorType,
				evt.Type,
				evt.InitiatedByID,
				evt.CreatedByID,
				unixNanos(evt.CreatedOn),
				body,
			); err != nil {
				return fmt.Errorf("store events: %s: %w", evt.ID, err)
			}
		}
		return nil
	})
}

// GetEventPackFor returns the events folded into snapshotID.
// Returns adapter.ErrNotFound if no pack was stored for the snapshot.
func (s *Store) GetEventPackFor(ctx context.Context, systemID, snapshotID string) (*adapter.EventPack, error) {
	var (
		pack      adapter.EventPack
		idsJSON   string
		createdOn int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, system_id, snapshot_id, event_ids, created_on
		FROM event_packs
		WHERE system_id = ? AND snapshot_id = ?
	`, systemID, snapshotID).Scan(&pack.ID, &pack.SystemID, &pack.SnapshotID, &idsJSON, &createdOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapter.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event pack: %w", err)
	}
	pack.CreatedOn = fromUnixNanos(createdOn)

	ids, err := unmarshalIDs(idsJSON)
	if err != nil {
		return nil, fmt.Errorf("get event pack: %w", err)
	}
	pack.Events = []ir.Message{}
	if len(ids) == 0 {
		return &pack, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	pack.Events, err = s.queryEvents(ctx, `
		SELECT body FROM events
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY id COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get event pack: %w", err)
	}
	return &pack, nil
}

// StoreEventPack records which events a snapshot folded. The events
// themselves stay in the log; the pack references them by id.
// Uses ON CONFLICT DO NOTHING for idempotency - packs are content-addressed.
func (s *Store) StoreEventPack(ctx context.Context, pack adapter.EventPack) error {
	idsJSON, err := marshalIDs(ir.EventIDs(pack.Events))
	if err != nil {
		return fmt.Errorf("store event pack: %w", err)
	}
	createdOn := pack.CreatedOn
	if createdOn.IsZero() {
		createdOn = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_packs (id, system_id, snapshot_id, event_ids, created_on)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, pack.ID, pack.SystemID, pack.SnapshotID, idsJSON, unixNanos(createdOn))
	if err != nil {
		return fmt.Errorf("store event pack: %w", err)
	}
	return nil
}

// GetEventsByIndex returns the events whose index column equals value,
// ordered by id.
func (s *Store) GetEventsByIndex(ctx context.Context, index, value string) ([]ir.Message, error) {
	var col string
	switch index {
	case adapter.IndexInitiatedByID:
		col = "initiated_by_id"
	case adapter.IndexCreatedByID:
		col = "created_by_id"
	case adapter.IndexType:
		col = "type"
	default:
		return nil, fmt.Errorf("get events by index: unknown index %q", index)
	}
	return s.queryEvents(ctx, `
		SELECT body FROM events
		WHERE `+col+` = ?
		ORDER BY id COLLATE BINARY ASC
	`, value)
}

// queryEvents runs a query selecting event bodies.
// Returns an empty slice (not nil) if no events match.
func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]ir.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Message{}
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (ir.Message, error) {
	var body string
	if err := rows.Scan(&body); err != nil {
		return ir.Message{}, fmt.Errorf("scan event: %w", err)
	}
	return unmarshalEvent(body)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
