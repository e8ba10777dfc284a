package workflow

import "fmt"

// State is the engine's position within a turn.
type State int

const (
	StateIdle State = iota
	StateAnalyzing
	StateReconciling
	StateAssembling
	StateGenerating
	StateCommitting
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateAnalyzing:   "analyzing",
	StateReconciling: "reconciling",
	StateAssembling:  "assembling",
	StateGenerating:  "generating",
	StateCommitting:  "committing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions is the complete table of legal moves. Every stage may fall back to idle;
// analyzing only ever leads to reconciling. Idle goes straight to generating for the greeting.
var transitions = map[State][]State{
	StateIdle:        {StateAnalyzing, StateGenerating},
	StateAnalyzing:   {StateReconciling, StateIdle},
	StateReconciling: {StateAssembling, StateIdle},
	StateAssembling:  {StateGenerating, StateIdle},
	StateGenerating:  {StateCommitting, StateIdle},
	StateCommitting:  {StateIdle},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
