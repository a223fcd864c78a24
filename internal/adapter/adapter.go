// Package adapter defines the storage, cache and search contracts the
// runtime core depends on.
//
// Each adapter has a small required interface. Optional operations are
// separate single-method interfaces discovered with a type assertion, so an
// adapter implements only what it supports.
package adapter

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/queryir"
)

// ErrNotFound is returned by optional lookups with no result.
var ErrNotFound = errors.New("not found")

// ErrUnsupported is returned when an optional operation is required but the
// configured adapter does not implement it.
var ErrUnsupported = errors.New("operation not supported by adapter")

// SnapshotStore is the required surface shared by the actor cache and the
// actor store.
//
// Fetch returns the current snapshot candidates for a system id: none for
// an unknown actor, one normally, several when concurrent writers stored
// sibling snapshots.
type SnapshotStore interface {
	Fetch(ctx context.Context, systemID string) ([]ir.Record, error)
	Store(ctx context.Context, systemID, vector string, state ir.Record) error
}

// ActorCache is a fast, lossy snapshot layer. Its errors are never fatal.
type ActorCache interface {
	SnapshotStore
}

// ActorStore is the durable snapshot store.
type ActorStore interface {
	SnapshotStore
}

// SystemIDLookup resolves a natural id to its system id. It returns "" and
// a nil error when no mapping exists.
type SystemIDLookup interface {
	GetSystemID(ctx context.Context, actorType, actorID string) (string, error)
}

// ActorIDLookup resolves a system id back to its natural id.
type ActorIDLookup interface {
	GetActorID(ctx context.Context, actorType, systemID string) (string, error)
}

// IDMapper records the bidirectional natural id <-> system id mapping.
type IDMapper interface {
	MapIDs(ctx context.Context, actorType, systemID, actorID string) error
}

// PointInTimeFetcher fetches the latest snapshot not past a point in an
// actor's history. It returns ErrNotFound when no snapshot qualifies.
type PointInTimeFetcher interface {
	FetchByLastEventID(ctx context.Context, systemID, lastEventID string) (ir.Record, error)
	FetchByLastEventDate(ctx context.Context, systemID string, at time.Time) (ir.Record, error)
}

// AncestorFinder resolves sibling snapshots to their common ancestor.
// excluded lists snapshot ids that must not be returned.
type AncestorFinder interface {
	FindAncestor(ctx context.Context, systemID string, candidates []ir.Record, excluded []string) ([]ir.Record, error)
}

// EventLog is the required surface shared by the event cache and the event
// store. GetEventsFor returns events with id greater than afterID (all
// events when afterID is empty) in ascending id order.
type EventLog interface {
	GetEventsFor(ctx context.Context, systemID, afterID string) ([]ir.Message, error)
	StoreEvents(ctx context.Context, systemID string, events []ir.Message) error
}

// EventCache is a fast, lossy event layer. Its errors are never fatal.
//
// GetEventsFor answers only when the cache holds afterID itself, which
// proves it saw every later event; otherwise it returns ErrNotFound.
type EventCache interface {
	EventLog
}

// EventStore is the durable, append-only event log.
type EventStore interface {
	EventLog
}

// EventPack is the set of events folded into one snapshot.
type EventPack struct {
	ID         string       `json:"id"`
	SystemID   string       `json:"system_id"`
	SnapshotID string       `json:"snapshot_id"`
	Events     []ir.Message `json:"events"`
	CreatedOn  time.Time    `json:"created_on"`
}

// PackStore persists event packs.
type PackStore interface {
	GetEventPackFor(ctx context.Context, systemID, snapshotID string) (*EventPack, error)
	StoreEventPack(ctx context.Context, pack EventPack) error
}

// StreamOptions selects a slice of an event log.
type StreamOptions struct {
	// ActorType streams every event of a type when no system id is given.
	ActorType string

	// AfterID starts the stream after this event id.
	AfterID string

	// Since starts the stream at this creation time.
	Since time.Time

	// EventTypes keeps only these fully-qualified event types.
	EventTypes []string

	// Follow keeps polling for new events until the context ends.
	Follow bool

	// PollInterval is the Follow polling period.
	PollInterval time.Duration

	// BatchSize bounds rows read per query.
	BatchSize int
}

// EventStreamer streams an event log lazily in ascending id order.
type EventStreamer interface {
	GetEventStreamFor(ctx context.Context, systemID string, opts StreamOptions) iter.Seq2[ir.Message, error]
}

// Event index names understood by EventIndexLookup.
const (
	IndexInitiatedByID = "initiated_by_id"
	IndexCreatedByID   = "created_by_id"
	IndexType          = "type"
)

// EventIndexLookup finds events by an indexed stamp.
type EventIndexLookup interface {
	GetEventsByIndex(ctx context.Context, index, value string) ([]ir.Message, error)
}

// Search maintains field indexes and resolves criteria to natural ids.
type Search interface {
	Find(ctx context.Context, actorType string, criteria queryir.Criteria) ([]string, error)
	Update(ctx context.Context, actorType, actorID string, fields []string, updated, original ir.Record) error
}
