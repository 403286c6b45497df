// Package power defines system power states and the per-device listener
// that receives them.
package power

import (
	"fmt"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// State is a system power state broadcast by the device manager.
type State int

const (
	StateDozeResume State = iota
	StateDozeSuspend
	StateResume
	StateSuspend
)

// AllStates returns every recognised power state.
func AllStates() []State {
	return []State{StateDozeResume, StateDozeSuspend, StateResume, StateSuspend}
}

// IsValid reports whether s is a recognised power state.
func (s State) IsValid() bool {
	return s >= StateDozeResume && s <= StateSuspend
}

// IsWake reports whether s brings devices up. Wake states are delivered to
// hosts in list order; every other state is delivered in reverse.
func (s State) IsWake() bool {
	return s == StateDozeResume || s == StateResume
}

func (s State) String() string {
	switch s {
	case StateDozeResume:
		return "doze_resume"
	case StateDozeSuspend:
		return "doze_suspend"
	case StateResume:
		return "resume"
	case StateSuspend:
		return "suspend"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Parse converts a state name to a State.
func Parse(s string) (State, error) {
	for _, st := range AllStates() {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: power state %q", device.ErrInvalidParam, s)
}

// Listener receives power transitions for one device.
// Any method may be nil; a nil method is treated as success.
type Listener struct {
	DozeResume  func() error
	DozeSuspend func() error
	Resume      func() error
	Suspend     func() error
}

// Token binds a listener to the device it was registered for.
type Token struct {
	listener Listener
}

// NewToken creates a token for the given listener.
func NewToken(l Listener) *Token {
	return &Token{listener: l}
}

// Dispatch delivers a power state to the listener.
func (t *Token) Dispatch(s State) error {
	if !s.IsValid() {
		return fmt.Errorf("%w: power state %d", device.ErrInvalidParam, int(s))
	}

	var fn func() error
	switch s {
	case StateDozeResume:
		fn = t.listener.DozeResume
	case StateDozeSuspend:
		fn = t.listener.DozeSuspend
	case StateResume:
		fn = t.listener.Resume
	case StateSuspend:
		fn = t.listener.Suspend
	}

	if fn == nil {
		return nil
	}
	return fn()
}
