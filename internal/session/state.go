package session

import "fmt"

// State is a step of one search session.
type State int

// Session states in forward order. Failed may be entered from any state
// and leads to ResultsRendered through the URL fallback.
const (
	Init State = iota
	ConsentPending
	FormReady
	Submitted
	ResultsRendered
	Failed
)

var stateNames = map[State]string{
	Init:            "init",
	ConsentPending:  "consent-pending",
	FormReady:       "form-ready",
	Submitted:       "submitted",
	ResultsRendered: "results-rendered",
	Failed:          "failed",
}

// String returns the state label used in logs.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	switch {
	case from == ResultsRendered:
		return false
	case to == Failed:
		return from != Failed
	case from == Failed:
		return to == ResultsRendered
	default:
		return to == from+1
	}
}

// machine tracks the current state and the path taken.
type machine struct {
	history []State
}

func newMachine() *machine {
	return &machine{history: []State{Init}}
}

func (m *machine) current() State {
	return m.history[len(m.history)-1]
}

func (m *machine) to(next State) error {
	cur := m.current()
	if !CanTransition(cur, next) {
		return fmt.Errorf("illegal session transition %s -> %s", cur, next)
	}
	m.history = append(m.history, next)
	return nil
}

func (m *machine) path() []State {
	out := make([]State, len(m.history))
	copy(out, m.history)
	return out
}
