package speech

// SlotState represents the playback state of one slot.
type SlotState int

const (
	// StateIdle indicates the slot has no audio and no pending work.
	StateIdle SlotState = iota
	// StateLoading indicates audio is being resolved for the slot.
	StateLoading
	// StatePlaying indicates the slot's audio is playing.
	StatePlaying
	// StateReady indicates playback finished naturally; the slot can be
	// replayed without resynthesis because the result is fingerprinted.
	StateReady
	// StateError indicates the last play attempt failed. The slot
	// auto-reverts to idle after the configured recovery delay.
	StateError
)

// String returns the string representation of the state.
func (s SlotState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsActive returns true if the slot is loading or playing.
func (s SlotState) IsActive() bool {
	return s == StateLoading || s == StatePlaying
}

// CanStart returns true if a new play attempt may begin from this state.
func (s SlotState) CanStart() bool {
	return s == StateIdle || s == StateReady || s == StateError
}

// StateMachine validates state transitions for one slot.
type StateMachine struct {
	current     SlotState
	transitions map[SlotState][]SlotState
}

// NewStateMachine creates a state machine in the idle state with the
// valid slot transitions.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[SlotState][]SlotState{
			StateIdle:    {StateLoading},
			StateLoading: {StatePlaying, StateError, StateIdle},
			StatePlaying: {StateReady, StateIdle, StateError},
			StateReady:   {StateLoading, StateIdle},
			StateError:   {StateIdle, StateLoading},
		},
	}
}

// Transition attempts to move to the specified state and reports whether
// the transition was valid.
func (sm *StateMachine) Transition(to SlotState) bool {
	valid := false
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	sm.current = to
	return true
}

// Current returns the current state.
func (sm *StateMachine) Current() SlotState {
	return sm.current
}
