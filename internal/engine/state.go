package engine

// State is the engine's workflow state. Exactly one state is active per
// engine at any time.
type State string

const (
	StateIdle             State = "idle"
	StateSelectingIssue   State = "selecting_issue"
	StateAnalyzing        State = "analyzing"
	StatePlanning         State = "planning"
	StateAwaitingApproval State = "awaiting_approval"
	StateImplementing     State = "implementing"
	StateCreatingPR       State = "creating_pr"
	StateMonitoring       State = "monitoring"
	StateMerging          State = "merging"
	StateError            State = "error"
)

// String returns the string representation.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is one of the known values.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// validTransitions defines the legal state transitions. Each key is a
// source state, the value is the set of valid target states. Any state
// may additionally transition to StateError on unrecoverable failure,
// and the two terminal run states reset to StateIdle at the start of
// the next cycle.
var validTransitions = map[State]map[State]bool{
	StateIdle:             {StateSelectingIssue: true},
	StateSelectingIssue:   {StateAnalyzing: true},
	StateAnalyzing:        {StatePlanning: true},
	StatePlanning:         {StateAwaitingApproval: true, StateImplementing: true},
	StateAwaitingApproval: {StateImplementing: true, StateIdle: true},
	StateImplementing:     {StateCreatingPR: true},
	StateCreatingPR:       {StateMonitoring: true},
	StateMonitoring:       {StateMerging: true},
	StateMerging:          {StateIdle: true},
	StateError:            {StateIdle: true},
}

// IsValidTransition checks if a state transition is legal.
func IsValidTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
