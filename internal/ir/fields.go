package ir

// Reserved bookkeeping fields maintained by the runtime on actor state.
// Handlers may read them but only the runtime writes them.
const (
	FieldSystemID   = "_id"
	FieldVector     = "_vector"
	FieldVersion    = "_version"
	FieldSnapshotID = "_snapshotId"
	FieldAncestor   = "_ancestor"

	FieldLastEventID        = "_lastEventId"
	FieldLastEventAppliedOn = "_lastEventAppliedOn"
	FieldRelated            = "_related"

	FieldLastCommandType      = "_lastCommandType"
	FieldLastCommandID        = "_lastCommandId"
	FieldLastCommandHandledOn = "_lastCommandHandledOn"

	// FieldState is the conventional lifecycle field compared by string guards.
	FieldState = "state"
)

// IsReserved reports whether key is a runtime bookkeeping field.
func IsReserved(key string) bool {
	return len(key) > 0 && key[0] == '_'
}
