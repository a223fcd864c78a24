// Package engine implements the command/event apply engine and the
// dispatcher that routes topics to actor instances.
//
// ARCHITECTURE:
//
// Per-identity serialization:
// Every mutation of an actor identity runs inside that identity's slot of a
// KeyedQueue. Slots for the same identity are granted in request order;
// distinct identities run concurrently up to a global slot limit.
//
// Apply flow:
//  1. A command is matched against its handler list (guards, exclusive rule)
//  2. Each matched handler decides a list of events from a read-only view
//  3. Every produced event is folded back through the event path on the
//     same instance before the command result is returned (cascade)
//  4. A failing command handler yields a rejected Result, not an error
//  5. A failing event handler is an error; during a cascade it is reported
//     as ErrCodeCascade
//
// Event application never takes a queue slot of its own: it happens either
// inside the command's slot (cascade) or inside a replay that already
// holds the identity's slot.
package engine
