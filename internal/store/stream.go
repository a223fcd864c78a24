package store

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
)

const (
	// DefaultPageSize bounds rows read per stream query.
	DefaultPageSize = 500

	// DefaultPollInterval is the Follow polling period.
	DefaultPollInterval = 250 * time.Millisecond
)

// GetEventStreamFor streams events lazily in ascending id order, one page
// per query. With a system id it streams that actor's log; otherwise every
// event of opts.ActorType (or of every type when that is empty too).
//
// With opts.Follow the stream polls for new events until ctx ends, and
// then ends without an error.
func (s *Store) GetEventStreamFor(ctx context.Context, systemID string, opts adapter.StreamOptions) iter.Seq2[ir.Message, error] {
	return func(yield func(ir.Message, error) bool) {
		pageSize := opts.BatchSize
		if pageSize <= 0 {
			pageSize = DefaultPageSize
		}
		poll := opts.PollInterval
		if poll <= 0 {
			poll = DefaultPollInterval
		}

		cursor := opts.AfterID
		for {
			if ctx.Err() != nil {
				if !opts.Follow {
					yield(ir.Message{}, ctx.Err())
				}
				return
			}

			query, args := streamQuery(systemID, cursor, pageSize, opts)
			page, err := s.queryEvents(ctx, query, args...)
			if err != nil {
				if opts.Follow && ctx.Err() != nil {
					return
				}
				yield(ir.Message{}, fmt.Errorf("event stream: %w", err))
				return
			}

			for _, evt := range page {
				if !yield(evt, nil) {
					return
				}
				cursor = evt.ID
			}
			if len(page) == pageSize {
				continue
			}
			if !opts.Follow {
				return
			}

			timer := time.NewTimer(poll)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// streamQuery builds one page query of a stream.
func streamQuery(systemID, cursor string, pageSize int, opts adapter.StreamOptions) (string, []any) {
	var where []string
	var args []any

	switch {
	case systemID != "":
		where = append(where, "system_id = ?")
		args = append(args, systemID)
	case opts.ActorType != "":
		where = append(where, "actor_type = ?")
		args = append(args, opts.ActorType)
	}
	if cursor != "" {
		where = append(where, "id COLLATE BINARY > ?")
		args = append(args, cursor)
	}
	if !opts.Since.IsZero() {
		where = append(where, "created_on >= ?")
		args = append(args, unixNanos(opts.Since))
	}
	if len(opts.EventTypes) > 0 {
		where = append(where, "type IN ("+placeholders(len(opts.EventTypes))+")")
		for _, t := range opts.EventTypes {
			args = append(args, t)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT body FROM events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id COLLATE BINARY ASC LIMIT ?")
	args = append(args, pageSize)
	return b.String(), args
}
