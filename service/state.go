package service

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a long running component.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateTerminated:
		return "Terminated"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

// allowed lists the legal successors for each state.
var allowed = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateTerminated, StateFailed},
}

// Listener is invoked synchronously after every successful transition.
// err is non-nil only for transitions into StateFailed.
type Listener func(from, to State, err error)

// Lifecycle holds the current state of a component and notifies
// listeners on every transition. Transitions are serialized.
type Lifecycle struct {
	name string

	mu        sync.Mutex
	state     State
	err       error
	listeners []Listener
}

func NewLifecycle(name string) *Lifecycle {
	return &Lifecycle{name: name, state: StateStopped}
}

func (l *Lifecycle) Name() string { return l.name }

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the failure cause once the lifecycle reached StateFailed.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// AddListener registers fn for all future transitions.
func (l *Lifecycle) AddListener(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Transition moves to state to. Listeners run while the lifecycle lock is
// held so that transitions, and the side effects attached to them, never
// interleave. Listeners must not call Transition on the same Lifecycle.
func (l *Lifecycle) Transition(to State) error {
	return l.transition(to, nil)
}

// Fail moves the lifecycle to StateFailed recording cause.
func (l *Lifecycle) Fail(cause error) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	return l.transition(StateFailed, cause)
}

func (l *Lifecycle) transition(to State, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.state
	if !canTransition(from, to) {
		return fmt.Errorf("%s: %s -> %s: %w", l.name, from, to, ErrInvalidTransition)
	}
	l.state = to
	if to == StateFailed {
		l.err = cause
	}
	for _, fn := range l.listeners {
		fn(from, to, cause)
	}
	return nil
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is Terminated or Failed.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}
