package account

// State of the account provisioning flow. The order of the constants matters:
// transitions only move forward, see isValidTransition.
type State int

const (
	StateRequireCreation State = iota
	StatePendingCreation
	StateRequireTrustline
	StateCreationCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateRequireCreation:
		return "require_creation"
	case StatePendingCreation:
		return "pending_creation"
	case StateRequireTrustline:
		return "require_trustline"
	case StateCreationCompleted:
		return "creation_completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) valid() bool {
	return s >= StateRequireCreation && s <= StateError
}

// isValidTransition allows moving into or out of the error state, moving forward,
// and restarting a completed account (switching to a restored wallet).
func isValidTransition(current, next State) bool {
	if next == StateError || current == StateError {
		return true
	}
	if current == StateCreationCompleted && next == StateRequireCreation {
		return true
	}
	return next >= current
}
