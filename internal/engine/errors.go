package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error that aborts a dispatch or apply.
//
// Command handler failures are not RuntimeErrors: they are reported as
// rejected results.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ActorType and ActorID identify the affected actor, when known.
	ActorType string
	ActorID   string

	// Topic is the message topic being processed.
	Topic string

	// Cause is the underlying error.
	Cause error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownActor indicates a routed actor type has no registration.
	ErrCodeUnknownActor RuntimeErrorCode = "UNKNOWN_ACTOR"

	// ErrCodeInstantiate indicates the actor instance could not be built.
	ErrCodeInstantiate RuntimeErrorCode = "INSTANTIATE_FAILED"

	// ErrCodeEventHandler indicates an event handler failed.
	ErrCodeEventHandler RuntimeErrorCode = "EVENT_HANDLER_FAILED"

	// ErrCodeCascade indicates an event produced by a command failed to apply.
	ErrCodeCascade RuntimeErrorCode = "CASCADE_FAILED"

	// ErrCodeEnrich indicates a produced event's owning actor could not be
	// resolved.
	ErrCodeEnrich RuntimeErrorCode = "ENRICH_FAILED"

	// ErrCodeStoreEvents indicates produced events could not be persisted.
	ErrCodeStoreEvents RuntimeErrorCode = "STORE_EVENTS_FAILED"

	// ErrCodeFetch indicates an instance could not be read from its stores.
	ErrCodeFetch RuntimeErrorCode = "FETCH_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s with %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err wraps a RuntimeError with the given code.
func IsCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewUnknownActorError creates a RuntimeError for a routed type without a
// registration.
func NewUnknownActorError(actorType, topic string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeUnknownActor,
		Message:   fmt.Sprintf("Actor '%s' subscribed to '%s' is not registered", actorType, topic),
		ActorType: actorType,
		Topic:     topic,
	}
}

// NewInstantiateError wraps a get-or-create failure.
func NewInstantiateError(actorType, id string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeInstantiate,
		Message:   fmt.Sprintf("Failed to instantiate actor '%s'", actorType),
		ActorType: actorType,
		ActorID:   id,
		Cause:     cause,
	}
}

// NewEventHandlerError wraps an event handler failure.
func NewEventHandlerError(actorType, id, topic string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeEventHandler,
		Message:   fmt.Sprintf("Failed to apply '%s' to '%s' of '%s'", topic, id, actorType),
		ActorType: actorType,
		ActorID:   id,
		Topic:     topic,
		Cause:     cause,
	}
}

// NewCascadeError wraps a failure applying an event produced by a command.
func NewCascadeError(actorType, id, command string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeCascade,
		Message:   fmt.Sprintf("Failed to cascade events of '%s' on '%s' of '%s'", command, id, actorType),
		ActorType: actorType,
		ActorID:   id,
		Topic:     command,
		Cause:     cause,
	}
}

// NewEnrichError reports an event whose owning actor cannot be resolved.
func NewEnrichError(actorType, topic string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeEnrich,
		Message:   fmt.Sprintf("Failed to resolve owner of '%s' produced by '%s'", topic, actorType),
		ActorType: actorType,
		Topic:     topic,
		Cause:     cause,
	}
}

// NewStoreEventsError wraps an event persistence failure.
func NewStoreEventsError(actorType, id string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeStoreEvents,
		Message:   fmt.Sprintf("Failed to store events for '%s' of '%s'", id, actorType),
		ActorType: actorType,
		ActorID:   id,
		Cause:     cause,
	}
}

// NewFetchError wraps a read failure. source names the adapter that
// failed and may be empty.
func NewFetchError(actorType, id, source string, cause error) *RuntimeError {
	msg := fmt.Sprintf("Failed to fetch '%s' of '%s'", id, actorType)
	if source != "" {
		msg += " from " + source
	}
	return &RuntimeError{
		Code:      ErrCodeFetch,
		Message:   msg,
		ActorType: actorType,
		ActorID:   id,
		Cause:     cause,
	}
}
