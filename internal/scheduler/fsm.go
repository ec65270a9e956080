package scheduler

import (
	"context"
	"time"

	"github.com/aea-network/aea/internal/aeaerr"
)

// StateBehavior is a Behavior that, once Done, can report which outgoing
// event it finished with, letting the FSM pick the next state.
type StateBehavior interface {
	Behavior
	LastEvent() string
}

type transitionKey struct {
	source string
	event  string
}

// FSM is a labeled-transition graph over named StateBehaviors, per
// spec.md §4.4: a state runs until Done, its LastEvent selects the
// registered (source, event) -> destination transition, and reaching a
// registered final state ends the FSM.
type FSM struct {
	states      map[string]StateBehavior
	edges       map[transitionKey]string
	finalStates map[string]bool
	current     string
	done        bool
}

// NewFSM builds an FSM starting in the named initial state, which must
// already be registered via AddState.
func NewFSM(initial string) *FSM {
	return &FSM{
		states:      make(map[string]StateBehavior),
		edges:       make(map[transitionKey]string),
		finalStates: make(map[string]bool),
		current:     initial,
	}
}

// AddState registers a named state behavior.
func (f *FSM) AddState(name string, behavior StateBehavior) {
	f.states[name] = behavior
}

// MarkFinal declares name a terminal state: once reached, the FSM is Done
// regardless of whether any outgoing transitions are registered from it.
func (f *FSM) MarkFinal(name string) {
	f.finalStates[name] = true
}

// AddTransition registers (source, event) -> destination. Registering the
// same (source, event) pair twice fails with a DuplicateTransition error.
func (f *FSM) AddTransition(source, event, destination string) error {
	key := transitionKey{source: source, event: event}
	if _, exists := f.edges[key]; exists {
		return aeaerr.New(aeaerr.KindDuplicateTransition, "transition already registered for ("+source+", "+event+")")
	}
	f.edges[key] = destination
	return nil
}

func (f *FSM) currentBehavior() StateBehavior { return f.states[f.current] }

func (f *FSM) Due(now time.Time) bool {
	if f.done {
		return false
	}
	return f.currentBehavior().Due(now)
}

func (f *FSM) Deadline() time.Time {
	if f.done {
		return time.Time{}
	}
	return f.currentBehavior().Deadline()
}

func (f *FSM) Run(ctx context.Context) error {
	if f.done {
		return nil
	}
	state := f.currentBehavior()
	err := state.Run(ctx)
	if !state.Done() {
		return err
	}
	if f.finalStates[f.current] {
		f.done = true
		return err
	}
	dest, ok := f.edges[transitionKey{source: f.current, event: state.LastEvent()}]
	if !ok {
		// No transition registered for this event: treat as a dead end.
		f.done = true
		return err
	}
	f.current = dest
	return err
}

func (f *FSM) Done() bool { return f.done }

// CurrentState reports the FSM's active state name, useful for monitoring.
func (f *FSM) CurrentState() string { return f.current }
