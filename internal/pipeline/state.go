package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle position of one generation.
type State string

const (
	StatePending  State = "PENDING"
	StateRendered State = "RENDERED"
	StateCompiled State = "COMPILED"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State]State{
	StatePending:  StateRendered,
	StateRendered: StateCompiled,
	StateCompiled: StateDone,
}

// CanTransition reports whether from may move to to. Every non-terminal
// state may fail; otherwise states advance one step at a time.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return transitions[from] == to
}

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// Transition is delivered to observers for every state change.
type Transition struct {
	RecordID   string
	TemplateID string
	From       State
	To         State
	At         time.Time
	// Err is set on transitions to FAILED.
	Err error
}

// Observer receives transitions synchronously, in order, from the
// goroutine running the generation.
type Observer func(Transition)

// tracker holds the state of a single generation. It is not shared.
type tracker struct {
	state      State
	recordID   string
	templateID string
	observer   Observer
}

func newTracker(recordID, templateID string, observer Observer) *tracker {
	return &tracker{
		state:      StatePending,
		recordID:   recordID,
		templateID: templateID,
		observer:   observer,
	}
}

func (t *tracker) advance(to State, cause error) error {
	if !CanTransition(t.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
	}
	from := t.state
	t.state = to
	if t.observer != nil {
		t.observer(Transition{
			RecordID:   t.recordID,
			TemplateID: t.templateID,
			From:       from,
			To:         to,
			At:         time.Now(),
			Err:        cause,
		})
	}
	return nil
}
