// Package actor defines actor types, their handler tables and the registry
// that routes topics to types.
//
// Handler shapes are normalized once, at registration: every handler is a
// Handler value with an explicit guard kind, an action and an exclusive
// flag, keyed by an explicit (owner type, name) topic pair. Nothing is
// inferred at dispatch time.
package actor
