package workflow

// State is the phase a refinement cycle is in.
type State string

const (
	// StatePrompting builds the generation prompt from the roadmap.
	StatePrompting State = "PROMPTING"
	// StateGenerating waits for the symbolic answer.
	StateGenerating State = "GENERATING"
	// StateFetching resolves and fetches web sources.
	StateFetching State = "FETCHING"
	// StateReviewing waits for the peer review of the answer.
	StateReviewing State = "REVIEWING"
	// StateMerging merges the cycle output and saves the roadmap.
	StateMerging State = "MERGING"
	// StateDone marks a cycle whose roadmap was saved.
	StateDone State = "DONE"
	// StateFailed marks a cycle aborted by a generation or save failure.
	StateFailed State = "FAILED"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known value.
func (s State) IsValid() bool {
	switch s {
	case StatePrompting, StateGenerating, StateFetching, StateReviewing,
		StateMerging, StateDone, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransitionTo checks if a transition from the current state to the
// target state is allowed. Every non-terminal state may fail.
func (s State) CanTransitionTo(target State) bool {
	if target == StateFailed {
		return !s.IsTerminal()
	}
	switch s {
	case "":
		return target == StatePrompting
	case StatePrompting:
		return target == StateGenerating
	case StateGenerating:
		return target == StateFetching
	case StateFetching:
		return target == StateReviewing
	case StateReviewing:
		return target == StateMerging
	case StateMerging:
		return target == StateDone
	default:
		return false
	}
}
