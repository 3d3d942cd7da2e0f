package narration

import "fmt"

// State is the narration state of a session.
type State int

const (
	// Idle means no narration is pending: before a session, after it ends,
	// or after an utterance finished on its own.
	Idle State = iota
	// Analyzing means the description is being fetched.
	Analyzing
	// Speaking means the description is being read aloud.
	Speaking
	// Stopped means a description is present but not being read.
	Stopped
	// Failed means speech could not be started.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Analyzing:
		return "analyzing"
	case Speaking:
		return "speaking"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// machine validates state changes against a fixed transition table.
type machine struct {
	current      State
	transitions  map[State][]State
	onTransition func(from, to State)
}

func newMachine() *machine {
	return &machine{
		current: Idle,
		transitions: map[State][]State{
			Idle:      {Analyzing, Speaking, Stopped, Failed},
			Analyzing: {Speaking, Stopped, Failed, Idle},
			Speaking:  {Speaking, Stopped, Idle, Failed},
			Stopped:   {Speaking, Stopped, Idle, Failed},
			Failed:    {Speaking, Stopped, Failed, Idle},
		},
	}
}

// transition moves to the given state, or returns ErrInvalidTransition and
// leaves the state alone.
func (m *machine) transition(to State) error {
	valid := false
	for _, s := range m.transitions[m.current] {
		if s == to {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
	}

	from := m.current
	m.current = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}

func (m *machine) state() State {
	return m.current
}
