// Package store provides the SQLite reference adapter: the durable actor
// store, event store and search index.
//
// The database holds:
//   - Snapshots: actor states keyed by snapshot id, with vector lineage
//   - Actor ids: the natural id <-> system id map per actor type
//   - Events: the append-only log, indexed by actor, type and causal stamps
//   - Event packs: which events each snapshot folded
//   - Search index: one row per indexed field element
//
// # Critical Patterns
//
// Deterministic Query Results
//   - All queries carry ORDER BY ... COLLATE BINARY
//   - Event ids are lexically ordered, so id order is log order
//
// Idempotent Writes
//   - Events, snapshots and packs insert with ON CONFLICT DO NOTHING
//   - Packs are content-addressed by ir.PackID
//
// Snapshot Heads
//   - Storing a snapshot clears the head flag of its ancestor and of every
//     head whose last event id it has reached
//   - Fetch returns the remaining heads; several heads mean a fork the
//     manager resolves through FindAncestor
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The driver is registered as DriverName with a REGEXP function so match
// criteria compile to plain SQL.
package store
