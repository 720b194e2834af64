package orchestrator

import "fmt"

// State is a stage of the per-turn state machine.
type State string

const (
	StateInit            State = "INIT"
	StateThinking        State = "THINKING"
	StateSimpleAnswer    State = "SIMPLE_ANSWER"
	StateToolSelection   State = "TOOL_SELECTION"
	StateToolExecuting   State = "TOOL_EXECUTING"
	StateToolAggregation State = "TOOL_AGGREGATION"
	StateFinalAnswer     State = "FINAL_ANSWER"
	StateComplete        State = "COMPLETE"
	StateCancelled       State = "CANCELLED"
	StateError           State = "ERROR"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled || s == StateError
}

// transitions lists the regular successors of each state. CANCELLED and ERROR
// are reachable from every non-terminal state and are not listed.
var transitions = map[State][]State{
	StateInit:            {StateThinking},
	StateThinking:        {StateSimpleAnswer, StateToolSelection},
	StateSimpleAnswer:    {StateComplete},
	StateToolSelection:   {StateToolExecuting, StateFinalAnswer},
	StateToolExecuting:   {StateToolAggregation},
	StateToolAggregation: {StateToolSelection, StateFinalAnswer},
	StateFinalAnswer:     {StateComplete},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled || to == StateError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the current state of one turn.
type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StateInit, history: []State{StateInit}}
}

func (m *machine) to(next State) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("illegal transition %s -> %s", m.state, next)
	}
	m.state = next
	m.history = append(m.history, next)
	return nil
}
