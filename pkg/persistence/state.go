package persistence

// State is the lifecycle state of an entity instance relative to a Context.
type State int

// Lifecycle states.
const (
	// StateTransient: never tracked by this context.
	StateTransient State = iota
	// StateManaged: tracked by the identity map and subject to dirty-checking.
	StateManaged
	// StateDetached: previously managed, no longer tracked.
	StateDetached
	// StateRemoved: tracked and queued for deletion.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateTransient:
		return "transient"
	case StateManaged:
		return "managed"
	case StateDetached:
		return "detached"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}
