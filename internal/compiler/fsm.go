package compiler

import "fmt"

// State is a node of the compile loop.
type State string

const (
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateRepairing  State = "repairing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// transitions lists every legal edge. Generating may loop on itself when a
// transient backend failure consumes an attempt.
var transitions = map[State][]State{
	StateGenerating: {StateValidating, StateGenerating, StateFailed},
	StateValidating: {StateSucceeded, StateRepairing, StateGenerating, StateFailed},
	StateRepairing:  {StateValidating, StateGenerating, StateFailed},
}

// Terminal reports whether s ends the loop.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the current state and the path taken.
type machine struct {
	state State
	trace []State
}

func newMachine() *machine {
	return &machine{state: StateGenerating, trace: []State{StateGenerating}}
}

func (m *machine) to(next State) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("compiler: illegal transition %s -> %s", m.state, next))
	}
	m.state = next
	m.trace = append(m.trace, next)
}
