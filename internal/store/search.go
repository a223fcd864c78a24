package store

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strconv"

	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/queryir"
	"github.com/roach88/evactor/internal/querysql"
)

// Find returns the natural ids of actorType instances whose indexed fields
// satisfy criteria, in ascending id order.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Find(ctx context.Context, actorType string, criteria queryir.Criteria) ([]string, error) {
	q, err := queryir.Parse(criteria)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", actorType, err)
	}
	query, params, err := querysql.NewSQLCompiler().Compile(actorType, q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", actorType, err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", actorType, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("find %s: scan: %w", actorType, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s: iterate: %w", actorType, err)
	}
	return ids, nil
}

// Update reindexes the given dotted field paths of one actor. Fields whose
// value did not change between original and updated are skipped. Lists
// index one row per element; nested objects are not indexed.
func (s *Store) Update(ctx context.Context, actorType, actorID string, fields []string, updated, original ir.Record) error {
	var changed []string
	for _, field := range fields {
		after, _ := updated.Get(field)
		before, _ := original.Get(field)
		if original == nil || !reflect.DeepEqual(after, before) {
			changed = append(changed, field)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, field := range changed {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM search_index WHERE actor_type = ? AND actor_id = ? AND field = ?
			`, actorType, actorID, field); err != nil {
				return fmt.Errorf("index %s %s: %w", actorType, field, err)
			}

			v, _ := updated.Get(field)
			for _, row := range indexRows(v) {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO search_index (actor_type, actor_id, field, value, num)
					VALUES (?, ?, ?, ?, ?)
				`, actorType, actorID, field, row.value, row.num); err != nil {
					return fmt.Errorf("index %s %s: %w", actorType, field, err)
				}
			}
		}
		return nil
	})
}

type indexRow struct {
	value string
	num   sql.NullFloat64
}

// indexRows converts a field value to its index rows.
func indexRows(v any) []indexRow {
	if list, ok := v.([]any); ok {
		var rows []indexRow
		for _, elem := range list {
			if row, ok := indexScalar(elem); ok {
				rows = append(rows, row)
			}
		}
		return rows
	}
	if list, ok := v.([]string); ok {
		rows := make([]indexRow, len(list))
		for i, elem := range list {
			rows[i] = indexRow{value: elem}
		}
		return rows
	}
	if row, ok := indexScalar(v); ok {
		return []indexRow{row}
	}
	return nil
}

func indexScalar(v any) (indexRow, bool) {
	switch val := v.(type) {
	case string:
		return indexRow{value: val}, true
	case bool:
		return indexRow{value: querysql.Param(val).(string)}, true
	}
	if f, ok := ir.AsFloat(v); ok {
		return indexRow{
			value: strconv.FormatFloat(f, 'f', -1, 64),
			num:   sql.NullFloat64{Float64: f, Valid: true},
		}, true
	}
	return indexRow{}, false
}
